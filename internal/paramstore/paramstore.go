// Package paramstore implements the per-node parameter store: dotted
// subparameter keys under "{node}.{dotted.name}" in the broker's parameters
// namespace, glob listing, and a JSON/YAML file loader that flattens nested
// maps into dotted keys and honors a "(condition)" suffix DSL on top-level
// node keys.
package paramstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unmnd/nv/internal/broker"
	"github.com/unmnd/nv/internal/codec"
	"github.com/unmnd/nv/internal/paramstore/condition"
	"github.com/unmnd/nv/nverrors"
)

// Store is the per-node parameter client. nodeName is the default namespace
// Get/Set operate under when no explicit node is given.
type Store struct {
	broker   broker.Client
	nodeName string
}

// New creates a Store bound to client, defaulting to nodeName.
func New(client broker.Client, nodeName string) *Store {
	return &Store{broker: client, nodeName: nodeName}
}

type record struct {
	Value       codec.Value
	Description string
}

func encodeRecord(r record) ([]byte, error) {
	return codec.Encode(codec.Map{
		"value":       r.Value,
		"description": codec.String(r.Description),
	})
}

func decodeRecord(b []byte) (record, error) {
	v, err := codec.Decode(b)
	if err != nil {
		return record{}, err
	}
	m, ok := v.(codec.Map)
	if !ok {
		return record{}, fmt.Errorf("paramstore: malformed parameter record")
	}
	desc, _ := m["description"].(codec.String)
	return record{Value: m["value"], Description: string(desc)}, nil
}

func key(node, name string) string {
	return node + "." + name
}

func (s *Store) resolveNode(node string) string {
	if node == "" {
		return s.nodeName
	}
	return node
}

// Get returns the value stored at name on node (s.nodeName if node is
// empty). A missing parameter yields codec.Null{} with no error, unless
// failIfNotFound is set, in which case it yields
// *nverrors.ParameterNotFoundError.
func (s *Store) Get(ctx context.Context, node, name string, failIfNotFound bool) (codec.Value, error) {
	node = s.resolveNode(node)
	b, ok, err := s.broker.Get(ctx, broker.NamespaceParameters, key(node, name))
	if err != nil {
		return nil, err
	}
	if !ok {
		if failIfNotFound {
			return nil, &nverrors.ParameterNotFoundError{Node: node, Name: name}
		}
		return codec.Null{}, nil
	}
	rec, err := decodeRecord(b)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// GetDescription returns the human-readable description attached to name on
// node.
func (s *Store) GetDescription(ctx context.Context, node, name string) (string, error) {
	node = s.resolveNode(node)
	b, ok, err := s.broker.Get(ctx, broker.NamespaceParameters, key(node, name))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &nverrors.ParameterNotFoundError{Node: node, Name: name}
	}
	rec, err := decodeRecord(b)
	if err != nil {
		return "", err
	}
	return rec.Description, nil
}

// listNames returns every dotted parameter name on node matching
// globPattern ("*" for all), sorted.
func (s *Store) listNames(ctx context.Context, node, globPattern string) ([]string, error) {
	prefix := node + "."
	keys, err := s.broker.Scan(ctx, broker.NamespaceParameters, prefix+globPattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(out)
	return out, nil
}

// List returns {short_name: value} for every parameter on node matching
// globPattern ("*" for all).
func (s *Store) List(ctx context.Context, node, globPattern string) (map[string]codec.Value, error) {
	node = s.resolveNode(node)
	names, err := s.listNames(ctx, node, globPattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]codec.Value, len(names))
	for _, name := range names {
		b, ok, err := s.broker.Get(ctx, broker.NamespaceParameters, key(node, name))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, err
		}
		out[name] = rec.Value
	}
	return out, nil
}

// Set stores value at name on node with an optional description.
func (s *Store) Set(ctx context.Context, node, name string, value codec.Value, description string) error {
	node = s.resolveNode(node)
	b, err := encodeRecord(record{Value: value, Description: description})
	if err != nil {
		return err
	}
	return s.broker.Set(ctx, broker.NamespaceParameters, key(node, name), b, 0)
}

// Entry is one parameter to set via SetMany.
type Entry struct {
	Name        string
	Value       codec.Value
	Description string
}

// SetMany pipelines a batch of parameter writes for node.
func (s *Store) SetMany(ctx context.Context, node string, entries []Entry) error {
	node = s.resolveNode(node)
	ops := make([]broker.Op, 0, len(entries))
	for _, e := range entries {
		b, err := encodeRecord(record{Value: e.Value, Description: e.Description})
		if err != nil {
			return err
		}
		ops = append(ops, broker.Op{Kind: broker.OpSet, Key: key(node, e.Name), Value: b})
	}
	return s.broker.Pipeline(ctx, broker.NamespaceParameters, ops)
}

// Delete removes name from node.
func (s *Store) Delete(ctx context.Context, node, name string) error {
	node = s.resolveNode(node)
	return s.broker.Delete(ctx, broker.NamespaceParameters, key(node, name))
}

// DeleteAll removes every parameter on node.
func (s *Store) DeleteAll(ctx context.Context, node string) error {
	node = s.resolveNode(node)
	names, err := s.listNames(ctx, node, "*")
	if err != nil {
		return err
	}
	ops := make([]broker.Op, 0, len(names))
	for _, name := range names {
		ops = append(ops, broker.Op{Kind: broker.OpDelete, Key: key(node, name)})
	}
	return s.broker.Pipeline(ctx, broker.NamespaceParameters, ops)
}

// SetFromFile loads a JSON or YAML parameter file (dispatched by extension)
// and writes every flattened parameter it describes. Top-level keys may
// carry a "(condition)" suffix; keys whose condition evaluates false are
// skipped entirely.
func (s *Store) SetFromFile(ctx context.Context, path string) error {
	tree, err := loadParameterFile(path)
	if err != nil {
		return err
	}

	perNode := map[string][]Entry{}
	for rawNodeKey, nodeValue := range tree {
		nodeName, ok, err := evalNodeKey(rawNodeKey)
		if err != nil {
			return fmt.Errorf("paramstore: %s: %w", path, err)
		}
		if !ok {
			continue
		}
		flat := map[string]interface{}{}
		flatten("", nodeValue, flat)
		for dotted, leaf := range flat {
			perNode[nodeName] = append(perNode[nodeName], Entry{
				Name:  dotted,
				Value: codec.FromGo(leaf),
			})
		}
	}

	for nodeName, entries := range perNode {
		if err := s.SetMany(ctx, nodeName, entries); err != nil {
			return fmt.Errorf("paramstore: %s: node %q: %w", path, nodeName, err)
		}
	}
	return nil
}

// evalNodeKey strips a trailing "(condition)" suffix from a top-level file
// key and evaluates it, reporting ok=false when the condition is false.
func evalNodeKey(rawKey string) (nodeName string, ok bool, err error) {
	open := strings.Index(rawKey, "(")
	if open == -1 || !strings.HasSuffix(rawKey, ")") {
		return strings.TrimSpace(rawKey), true, nil
	}
	nodeName = strings.TrimSpace(rawKey[:open])
	expr := rawKey[open+1 : len(rawKey)-1]
	result, err := condition.Eval(expr)
	if err != nil {
		return "", false, fmt.Errorf("condition on key %q: %w", rawKey, err)
	}
	return nodeName, result, nil
}

// flatten walks a nested map from a parameter file, accumulating dotted
// paths for every leaf (non-map) value.
func flatten(prefix string, v interface{}, out map[string]interface{}) {
	m, ok := v.(map[string]interface{})
	if !ok {
		out[prefix] = v
		return
	}
	for k, child := range m {
		dotted := k
		if prefix != "" {
			dotted = prefix + "." + k
		}
		flatten(dotted, child, out)
	}
}

func loadParameterFile(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("paramstore: read %s: %w", path, err)
	}

	var tree map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(b, &tree); err != nil {
			return nil, fmt.Errorf("paramstore: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &tree); err != nil {
			return nil, fmt.Errorf("paramstore: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("paramstore: %s: unsupported extension", path)
	}
	return tree, nil
}
