// Package loam reads engine configuration from a loam document tree.
//
// Every document is one state, one API definition or the engine header,
// told apart by the "kind" key of its frontmatter:
//
//	---
//	kind: state        # default
//	id: ask_city       # defaults to the file name
//	initial: true
//	parameters:
//	  required: [city]
//	---
//	Free text body, used as the state description.
//
// An "engine" document may set initial_state instead of flagging a state.
package loam

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"
	"github.com/egorky/iafsm/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Document kinds.
const (
	KindState  = "state"
	KindAPI    = "api"
	KindEngine = "engine"
)

// Metadata is the raw frontmatter of a document.
type Metadata map[string]any

// Source implements ports.ConfigSource and ports.Watchable over loam.
type Source struct {
	Repo *loam.TypedRepository[Metadata]
}

// New creates a source from a typed repository.
func New(repo *loam.TypedRepository[Metadata]) *Source {
	return &Source{Repo: repo}
}

// Open initializes a read-only loam repository at dir and wraps it.
func Open(dir string) (*Source, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	// Strict mode keeps numbers as json.Number across JSON and YAML documents.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[Metadata](repo)), nil
}

// Load reads every document and assembles a configuration snapshot.
func (s *Source) Load(ctx context.Context) (domain.StatesDocument, []domain.APIDefinition, error) {
	doc := domain.StatesDocument{States: make(map[string]domain.StateConfig)}

	docs, err := s.Repo.List(ctx)
	if err != nil {
		return doc, nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	var initials []string
	var apis []domain.APIDefinition

	for _, d := range docs {
		meta := d.Data
		kind, _ := meta["kind"].(string)
		if kind == "" {
			kind = KindState
		}

		switch kind {
		case KindEngine:
			if initial, ok := meta["initial_state"].(string); ok {
				doc.InitialState = initial
			}

		case KindState:
			var st domain.StateConfig
			if err := decode(meta, &st); err != nil {
				return doc, nil, fmt.Errorf("state %s: %w", d.ID, err)
			}
			st.ID = documentID(st.ID, d.ID)
			if st.Description == "" {
				st.Description = strings.TrimSpace(d.Content)
			}
			if err := claim(seen, "state:"+st.ID, d.ID); err != nil {
				return doc, nil, err
			}
			if initial, _ := meta["initial"].(bool); initial {
				initials = append(initials, st.ID)
			}
			doc.States[st.ID] = st

		case KindAPI:
			var api domain.APIDefinition
			if err := decode(meta, &api); err != nil {
				return doc, nil, fmt.Errorf("api %s: %w", d.ID, err)
			}
			api.ID = documentID(api.ID, d.ID)
			if err := claim(seen, "api:"+api.ID, d.ID); err != nil {
				return doc, nil, err
			}
			apis = append(apis, api)

		default:
			return doc, nil, fmt.Errorf("document %s: unknown kind %q", d.ID, kind)
		}
	}

	if doc.InitialState == "" {
		switch len(initials) {
		case 0:
		case 1:
			doc.InitialState = initials[0]
		default:
			sort.Strings(initials)
			return doc, nil, fmt.Errorf("several states flagged initial: %s", strings.Join(initials, ", "))
		}
	}

	sort.Slice(apis, func(i, j int) bool { return apis[i].ID < apis[j].ID })
	return doc, apis, nil
}

// claim records where an id is defined and fails on a second definition.
func claim(seen map[string]string, key, docID string) error {
	if existing, ok := seen[key]; ok {
		return fmt.Errorf("collision detected: %s is defined in both '%s' and '%s'", key, existing, docID)
	}
	seen[key] = docID
	return nil
}

func decode(meta Metadata, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(meta))
}

// documentID prefers the declared id and falls back to the file name.
func documentID(declared, docID string) string {
	if declared != "" {
		return trimExtension(declared)
	}
	return trimExtension(path.Base(filepath.ToSlash(docID)))
}

func trimExtension(id string) string {
	return filepath.ToSlash(strings.TrimSuffix(id, filepath.Ext(id)))
}

// Watch implements ports.Watchable.
func (s *Source) Watch(ctx context.Context) (<-chan string, error) {
	events, err := s.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				// loam debounces; pass the changed id along.
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
