package domain

import "fmt"

// PortalSystem — целевая внешняя система (портал юридической фирмы),
// из которой бот забирает документы.
//
// Закрытое множество: выбор реализации автоматизации происходит один раз
// при конфигурации, неизвестный портал отклоняется валидацией на входе,
// а не падением во время выполнения.
type PortalSystem string

const (
	// PortalElawCogna — eLaw (клиенты Cogna, Mercantil).
	PortalElawCogna PortalSystem = "ELAW_COGNA"

	// PortalLexxySuperSim — Lexxy (клиент SuperSim).
	PortalLexxySuperSim PortalSystem = "LEXXY_SUPERSIM"

	// PortalBCLegalLoft — BCLegal (клиент Loft).
	PortalBCLegalLoft PortalSystem = "BCLEGAL_LOFT"

	// PortalAdvwin — ADVWin GED (внутренний архив).
	PortalAdvwin PortalSystem = "ADVWIN"
)

// SupportedPortals возвращает список поддерживаемых порталов.
func SupportedPortals() []PortalSystem {
	return []PortalSystem{
		PortalElawCogna,
		PortalLexxySuperSim,
		PortalBCLegalLoft,
		PortalAdvwin,
	}
}

// ParsePortalSystem парсит строку в PortalSystem.
// Неизвестное значение — ошибка валидации, не fallback.
func ParsePortalSystem(s string) (PortalSystem, error) {
	switch PortalSystem(s) {
	case PortalElawCogna, PortalLexxySuperSim, PortalBCLegalLoft, PortalAdvwin:
		return PortalSystem(s), nil
	default:
		return "", fmt.Errorf("unsupported portal system: %q", s)
	}
}

// String возвращает строковое представление PortalSystem.
func (p PortalSystem) String() string {
	return string(p)
}
