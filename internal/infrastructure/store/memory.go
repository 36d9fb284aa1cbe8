package store

import (
	"context"
	"sync"

	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// MemoryStore is an in-memory Store used by tests and single-process setups.
type MemoryStore struct {
	mu        sync.RWMutex
	nodes     map[string]map[string]*node.Instance // infraID -> nodeID -> instance
	names     map[string]map[string]string         // infraID -> nodeID -> name
	attrs     map[string]map[string]any            // nodeID -> attribute -> value
	defs      map[string][]*node.Definition        // nodeType -> templates
	contexts  map[string]string                    // backendID -> default context template
	authData  map[string]map[int64]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]map[string]*node.Instance),
		names:    make(map[string]map[string]string),
		attrs:    make(map[string]map[string]any),
		defs:     make(map[string][]*node.Definition),
		contexts: make(map[string]string),
		authData: make(map[string]map[int64]map[string]string),
	}
}

func (s *MemoryStore) RegisterStartedNode(ctx context.Context, infraID, name string, inst *node.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes[infraID] == nil {
		s.nodes[infraID] = make(map[string]*node.Instance)
		s.names[infraID] = make(map[string]string)
	}
	s.nodes[infraID][inst.NodeID] = inst
	s.names[infraID][inst.NodeID] = name
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, infraID, nodeID string) (*node.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.nodes[infraID][nodeID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return inst, nil
}

func (s *MemoryStore) FindNodesByName(ctx context.Context, infraID, name string) ([]*node.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*node.Instance
	for nodeID, n := range s.names[infraID] {
		if n == name {
			out = append(out, s.nodes[infraID][nodeID])
		}
	}
	return out, nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, infraID string) ([]*node.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*node.Instance, 0, len(s.nodes[infraID]))
	for _, inst := range s.nodes[infraID] {
		out = append(out, inst)
	}
	return out, nil
}

func (s *MemoryStore) RemoveNode(ctx context.Context, infraID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[infraID][nodeID]; !ok {
		return errs.ErrNotFound
	}
	delete(s.nodes[infraID], nodeID)
	delete(s.names[infraID], nodeID)
	delete(s.attrs, nodeID)
	return nil
}

func (s *MemoryStore) DropInfrastructure(ctx context.Context, infraID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nodeID := range s.nodes[infraID] {
		delete(s.attrs, nodeID)
	}
	delete(s.nodes, infraID)
	delete(s.names, infraID)
	return nil
}

func (s *MemoryStore) NodeAttribute(ctx context.Context, nodeID, attribute string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.attrs[nodeID][attribute]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) SetNodeAttribute(ctx context.Context, nodeID, attribute string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs[nodeID] == nil {
		s.attrs[nodeID] = make(map[string]any)
	}
	s.attrs[nodeID][attribute] = value
	return nil
}

func (s *MemoryStore) Definitions(ctx context.Context, nodeType string) ([]*node.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := s.defs[nodeType]
	if len(defs) == 0 {
		return nil, errs.ErrNotFound
	}
	out := make([]*node.Definition, len(defs))
	for i, d := range defs {
		out[i] = d.Clone()
	}
	return out, nil
}

func (s *MemoryStore) SaveDefinition(ctx context.Context, nodeType string, def *node.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[nodeType] = append(s.defs[nodeType], def.Clone())
	return nil
}

func (s *MemoryStore) DefaultContext(ctx context.Context, backendID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts[backendID], nil
}

func (s *MemoryStore) SetDefaultContext(ctx context.Context, backendID, contextTemplate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[backendID] = contextTemplate
	return nil
}

func (s *MemoryStore) AuthData(ctx context.Context, backendID string, userID int64) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.authData[backendID][userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SaveAuthData(ctx context.Context, backendID string, userID int64, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authData[backendID] == nil {
		s.authData[backendID] = make(map[int64]map[string]string)
	}
	s.authData[backendID][userID] = data
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
