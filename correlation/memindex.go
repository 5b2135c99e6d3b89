package correlation

import (
	"context"
	"sync"
	"time"
)

type sagaMeta struct {
	status    SagaStatus
	startedAt time.Time
}

// MemIndex is an in-memory Index for tests and single-process deployments.
type MemIndex struct {
	mu        sync.RWMutex
	corr      map[string]map[string]struct{}            // corrID -> set<SagaID>
	prop      map[string]map[string]map[string]struct{} // name -> value -> set<SagaID>
	sagaMetas map[string]sagaMeta
}

// NewMemIndex creates an empty in-memory correlation index.
func NewMemIndex() *MemIndex {
	return &MemIndex{
		corr:      make(map[string]map[string]struct{}),
		prop:      make(map[string]map[string]map[string]struct{}),
		sagaMetas: make(map[string]sagaMeta),
	}
}

var _ Index = (*MemIndex)(nil)

func (m *MemIndex) IndexSaga(_ context.Context, sagaID, _ string, corrID string, status SagaStatus, startedAt time.Time) error {
	if err := validateKey(sagaID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sagaMetas[sagaID] = sagaMeta{status: status, startedAt: startedAt}
	if corrID != "" {
		set, ok := m.corr[corrID]
		if !ok {
			set = make(map[string]struct{})
			m.corr[corrID] = set
		}
		set[sagaID] = struct{}{}
	}
	return nil
}

func (m *MemIndex) IndexProperty(_ context.Context, sagaID, name, value string) error {
	if err := validateKey(sagaID); err != nil {
		return err
	}
	if err := validateKey(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	values, ok := m.prop[name]
	if !ok {
		values = make(map[string]map[string]struct{})
		m.prop[name] = values
	}
	set, ok := values[value]
	if !ok {
		set = make(map[string]struct{})
		values[value] = set
	}
	set[sagaID] = struct{}{}
	return nil
}

func (m *MemIndex) UpdateStatus(_ context.Context, sagaID string, status SagaStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.sagaMetas[sagaID]
	if !ok {
		return nil
	}
	meta.status = status
	m.sagaMetas[sagaID] = meta
	return nil
}

func (m *MemIndex) FindByCorrelationID(_ context.Context, corrID string, opts QueryOptions) ([]string, error) {
	if err := validateKey(corrID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterAndCollect(m.corr[corrID], opts), nil
}

func (m *MemIndex) FindByProperty(_ context.Context, name, value string, opts QueryOptions) ([]string, error) {
	if err := validateKey(name); err != nil {
		return nil, err
	}
	if err := validateKey(value); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterAndCollect(m.prop[name][value], opts), nil
}

func (m *MemIndex) filterAndCollect(set map[string]struct{}, opts QueryOptions) []string {
	var out []string
	for sagaID := range set {
		meta := m.sagaMetas[sagaID]
		if meta.status.IsTerminal() && !opts.IncludeCompleted {
			continue
		}
		out = append(out, sagaID)
		if opts.MaxResults > 0 && len(out) >= opts.MaxResults {
			break
		}
	}
	return out
}

func (m *MemIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corr = make(map[string]map[string]struct{})
	m.prop = make(map[string]map[string]map[string]struct{})
	m.sagaMetas = make(map[string]sagaMeta)
	return nil
}
