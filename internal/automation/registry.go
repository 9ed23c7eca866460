package automation

import (
	"errors"
	"fmt"

	"github.com/shaiso/Caseflow/internal/domain"
)

// ErrUnsupportedPortal — нет автоматизации для данного портала.
var ErrUnsupportedPortal = errors.New("unsupported portal")

// Registry — закрытый реестр автоматизаций по порталам.
//
// Состав фиксируется при старте процесса; добавление портала — это
// добавление константы в domain.PortalSystem и записи здесь, а не
// регистрация по строковому ключу в рантайме.
type Registry struct {
	automations map[domain.PortalSystem]Automation
}

// NewRegistry создаёт реестр с автоматизацией для каждого
// поддерживаемого портала.
func NewRegistry(bridge *Bridge) *Registry {
	r := &Registry{automations: make(map[domain.PortalSystem]Automation)}
	for _, portal := range domain.SupportedPortals() {
		r.automations[portal] = bridge.ForPortal(portal)
	}
	return r
}

// NewRegistryWith создаёт реестр из явного набора автоматизаций.
// Используется в тестах.
func NewRegistryWith(automations map[domain.PortalSystem]Automation) *Registry {
	return &Registry{automations: automations}
}

// Get возвращает автоматизацию для портала.
func (r *Registry) Get(portal domain.PortalSystem) (Automation, error) {
	a, ok := r.automations[portal]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPortal, portal)
	}
	return a, nil
}
