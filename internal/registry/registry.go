package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed возвращается после Close.
var ErrClosed = errors.New("session registry is closed")

// Registry хранит активные сессии пользователей в памяти процесса.
// Сессия привязана к одному пользователю; роли запоминаются на пользователя
// и удаляются вместе с его последней сессией.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]uuid.UUID
	roles    map[uuid.UUID][]string
	refs     map[uuid.UUID]int
	closed   bool
}

// New создаёт пустой реестр.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]uuid.UUID),
		roles:    make(map[uuid.UUID][]string),
		refs:     make(map[uuid.UUID]int),
	}
}

// Register добавляет сессию. Повторная регистрация сессии перепривязывает её.
func (r *Registry) Register(sessionID string, userID uuid.UUID, roles []string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if prev, ok := r.sessions[sessionID]; ok {
		r.release(prev)
	}
	r.sessions[sessionID] = userID
	r.refs[userID]++
	r.roles[userID] = append([]string(nil), roles...)
	return nil
}

// Remove удаляет сессию. Неизвестная сессия игнорируется.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	r.release(userID)
}

func (r *Registry) release(userID uuid.UUID) {
	r.refs[userID]--
	if r.refs[userID] <= 0 {
		delete(r.refs, userID)
		delete(r.roles, userID)
	}
}

// IsUserActive сообщает, есть ли у пользователя открытая сессия.
func (r *Registry) IsUserActive(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs[userID] > 0
}

// FindUsersByRoles возвращает подключённых пользователей с любой из ролей.
func (r *Registry) FindUsersByRoles(target ...string) []uuid.UUID {
	want := make(map[string]struct{}, len(target))
	for _, role := range target {
		want[role] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []uuid.UUID
	for userID, roles := range r.roles {
		for _, role := range roles {
			if _, ok := want[role]; ok {
				users = append(users, userID)
				break
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users
}

// Count возвращает число открытых сессий.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close очищает реестр и запрещает новые регистрации.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.sessions = make(map[string]uuid.UUID)
	r.roles = make(map[uuid.UUID][]string)
	r.refs = make(map[uuid.UUID]int)
	return nil
}
