package domain

import (
	"regexp"
	"strings"
)

// cnjPattern — формат номера процесса CNJ: NNNNNNN-DD.AAAA.J.TR.OOOO.
var cnjPattern = regexp.MustCompile(`^\d{7}-\d{2}\.\d{4}\.\d{1}\.\d{2}\.\d{4}$`)

// nonCNJChars — всё, кроме цифр, дефиса и точки.
var nonCNJChars = regexp.MustCompile(`[^\d\-.]`)

// CleanCaseNumber нормализует сырой номер процесса: обрезает пробелы и
// удаляет посторонние символы.
func CleanCaseNumber(raw string) string {
	return nonCNJChars.ReplaceAllString(strings.TrimSpace(raw), "")
}

// IsValidCaseNumber проверяет формат CNJ.
func IsValidCaseNumber(cnj string) bool {
	return cnjPattern.MatchString(strings.TrimSpace(cnj))
}

// ValidateCaseNumbers нормализует и валидирует список номеров процессов.
//
// Возвращает очищенный список и списки отклонённых значений: невалидные
// по формату и дубликаты. Дубликат отклоняется на входе, а не порождает
// два task.
func ValidateCaseNumbers(raw []string) (valid, invalid, duplicates []string) {
	seen := make(map[string]bool, len(raw))

	for _, r := range raw {
		cnj := CleanCaseNumber(r)
		if !IsValidCaseNumber(cnj) {
			invalid = append(invalid, r)
			continue
		}
		if seen[cnj] {
			duplicates = append(duplicates, cnj)
			continue
		}
		seen[cnj] = true
		valid = append(valid, cnj)
	}

	return valid, invalid, duplicates
}

// SafeCaseNumber возвращает номер процесса, пригодный для использования
// в пути хранилища (точки, дефисы и слэши заменены на подчёркивания).
func SafeCaseNumber(cnj string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_", "/", "_")
	return replacer.Replace(cnj)
}
