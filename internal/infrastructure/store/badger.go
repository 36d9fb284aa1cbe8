package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/occopus/infra-processor/internal/node"
	errs "github.com/occopus/infra-processor/internal/shared/errors"
)

// BadgerStore implements Store on an embedded Badger key-value database.
//
// Key layout:
//
//	node:<infra_id>:<node_id>        instance document
//	name:<infra_id>:<name>:<node_id> name index, empty value
//	attr:<node_id>:<attribute>       attribute value
//	def:<node_type>:<backend_id>     definition document
//	ctx:<backend_id>                 backend default context template
//	auth:<backend_id>:<user_id>      auth data document
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the Badger database rooted at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func nodeKey(infraID, nodeID string) []byte {
	return []byte("node:" + infraID + ":" + nodeID)
}

func nameKey(infraID, name, nodeID string) []byte {
	return []byte("name:" + infraID + ":" + name + ":" + nodeID)
}

func attrKey(nodeID, attribute string) []byte {
	return []byte("attr:" + nodeID + ":" + attribute)
}

func defKey(nodeType, backendID string) []byte {
	return []byte("def:" + nodeType + ":" + backendID)
}

func ctxKey(backendID string) []byte {
	return []byte("ctx:" + backendID)
}

func authKey(backendID string, userID int64) []byte {
	return []byte(fmt.Sprintf("auth:%s:%d", backendID, userID))
}

func (s *BadgerStore) RegisterStartedNode(_ context.Context, infraID, name string, inst *node.Instance) error {
	doc, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(nodeKey(infraID, inst.NodeID), doc); err != nil {
			return err
		}
		return txn.Set(nameKey(infraID, name, inst.NodeID), nil)
	})
}

func (s *BadgerStore) GetNode(_ context.Context, infraID, nodeID string) (*node.Instance, error) {
	var inst *node.Instance
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(infraID, nodeID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			inst = &node.Instance{}
			return json.Unmarshal(val, inst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return inst, nil
}

func (s *BadgerStore) FindNodesByName(ctx context.Context, infraID, name string) ([]*node.Instance, error) {
	prefix := []byte("name:" + infraID + ":" + name + ":")
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes: %w", err)
	}

	out := make([]*node.Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := s.GetNode(ctx, infraID, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

func (s *BadgerStore) ListNodes(_ context.Context, infraID string) ([]*node.Instance, error) {
	prefix := []byte("node:" + infraID + ":")
	var out []*node.Instance
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var inst node.Instance
				if err := json.Unmarshal(val, &inst); err != nil {
					return err
				}
				out = append(out, &inst)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) RemoveNode(ctx context.Context, infraID, nodeID string) error {
	inst, err := s.GetNode(ctx, infraID, nodeID)
	if err != nil {
		return err
	}
	var name string
	if inst.Description != nil {
		name = inst.Description.Name
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(nodeKey(infraID, nodeID)); err != nil {
			return err
		}
		if err := txn.Delete(nameKey(infraID, name, nodeID)); err != nil {
			return err
		}
		return s.deletePrefix(txn, []byte("attr:"+nodeID+":"))
	})
}

func (s *BadgerStore) DropInfrastructure(ctx context.Context, infraID string) error {
	nodes, err := s.ListNodes(ctx, infraID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, inst := range nodes {
			if err := s.deletePrefix(txn, []byte("attr:"+inst.NodeID+":")); err != nil {
				return err
			}
		}
		if err := s.deletePrefix(txn, []byte("node:"+infraID+":")); err != nil {
			return err
		}
		return s.deletePrefix(txn, []byte("name:"+infraID+":"))
	})
}

func (s *BadgerStore) deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) NodeAttribute(_ context.Context, nodeID, attribute string) (any, error) {
	var val any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attrKey(nodeID, attribute))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &val)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute: %w", err)
	}
	return val, nil
}

func (s *BadgerStore) SetNodeAttribute(_ context.Context, nodeID, attribute string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode attribute: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(attrKey(nodeID, attribute), raw)
	})
}

func (s *BadgerStore) Definitions(_ context.Context, nodeType string) ([]*node.Definition, error) {
	prefix := []byte("def:" + nodeType + ":")
	var defs []*node.Definition
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var def node.Definition
				if err := json.Unmarshal(val, &def); err != nil {
					return err
				}
				defs = append(defs, &def)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	if len(defs) == 0 {
		return nil, errs.ErrNotFound
	}
	return defs, nil
}

func (s *BadgerStore) SaveDefinition(_ context.Context, nodeType string, def *node.Definition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(defKey(nodeType, def.BackendID), doc)
	})
}

func (s *BadgerStore) DefaultContext(_ context.Context, backendID string) (string, error) {
	var tmpl string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ctxKey(backendID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			tmpl = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get default context: %w", err)
	}
	return tmpl, nil
}

func (s *BadgerStore) SetDefaultContext(_ context.Context, backendID, contextTemplate string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ctxKey(backendID), []byte(contextTemplate))
	})
}

func (s *BadgerStore) AuthData(_ context.Context, backendID string, userID int64) (map[string]string, error) {
	var data map[string]string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(authKey(backendID, userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &data)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth data: %w", err)
	}
	return data, nil
}

func (s *BadgerStore) SaveAuthData(_ context.Context, backendID string, userID int64, data map[string]string) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode auth data: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(authKey(backendID, userID), doc)
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
