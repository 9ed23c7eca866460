package domain

// Artifact — файл, скачанный ботом автоматизации.
//
// Живёт на локальном диске воркера до выгрузки в хранилище, после чего
// локальная копия удаляется.
type Artifact struct {
	// LocalPath — путь к скачанному файлу на диске воркера.
	LocalPath string `json:"local_path"`

	// DisplayName — человекочитаемое имя файла.
	DisplayName string `json:"display_name"`

	// Category — категория документа (petição, sentença, ...); заполняется
	// ботом, эвристики классификации — вне этой системы.
	Category string `json:"category,omitempty"`
}

// ArtifactRef — ссылка на артефакт в постоянном хранилище.
type ArtifactRef struct {
	// Key — ключ объекта в хранилище (routing key + имя файла).
	Key string `json:"key"`

	// Name — имя файла.
	Name string `json:"name"`

	// Category — категория документа.
	Category string `json:"category,omitempty"`

	// Size — размер в байтах.
	Size int64 `json:"size,omitempty"`
}
