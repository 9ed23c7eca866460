package dispatcher

import "errors"

// Ошибки dispatcher.
var (
	// ErrRequestNotFound — request события не найден в БД.
	ErrRequestNotFound = errors.New("request not found")

	// ErrUnsupportedPortal — request ссылается на неизвестный портал.
	ErrUnsupportedPortal = errors.New("unsupported portal")

	// ErrUnknownEventType — в журнале событие неизвестного типа.
	ErrUnknownEventType = errors.New("unknown event type")
)
