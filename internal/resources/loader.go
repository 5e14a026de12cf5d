package resources

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads declarative resources from a directory into a Store.
// Invalid files are logged and skipped; they never fail the load.
type Loader struct {
	store  *Store
	logger *slog.Logger
	dir    string
}

// NewLoader creates a loader for the given store.
func NewLoader(store *Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger.With("component", "resources")}
}

// LoadDirectory parses every .yaml/.yml file under dir (recursively) and
// registers the resources it finds. Returns the number of resources loaded.
func (l *Loader) LoadDirectory(dir string) (int, error) {
	l.dir = dir
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		n, err := l.LoadFile(path)
		if err != nil {
			l.logger.Warn("skipping invalid resource file", "path", path, "error", err)
			return nil
		}
		count += n
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("load directory %s: %w", dir, err)
	}
	return count, nil
}

// LoadFile parses a single resource file, which may hold multiple YAML
// documents. All documents must be valid for any to register.
func (l *Loader) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	loaded := 0
	for {
		var doc yaml.Node
		if err := decoder.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return loaded, fmt.Errorf("parse %s: %w", path, err)
		}
		if doc.Kind == 0 {
			continue
		}
		if err := l.registerDocument(&doc); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

// registerDocument dispatches one parsed document by its kind header.
func (l *Loader) registerDocument(doc *yaml.Node) error {
	var head Header
	if err := doc.Decode(&head); err != nil {
		return fmt.Errorf("decode header: %w", err)
	}

	switch head.Kind {
	case KindAgent:
		var agent Agent
		if err := doc.Decode(&agent); err != nil {
			return err
		}
		return l.store.Agents.Register(&agent)
	case KindAgentFlow:
		var flow Flow
		if err := doc.Decode(&flow); err != nil {
			return err
		}
		return l.store.Flows.Register(&flow)
	case KindAgentFleet:
		var fleet Fleet
		if err := doc.Decode(&fleet); err != nil {
			return err
		}
		return l.store.Fleets.Register(&fleet)
	case KindTrigger:
		var trigger Trigger
		if err := decodeExpanded(doc, &trigger, l.logger); err != nil {
			return err
		}
		return l.store.Triggers.Register(&trigger)
	case KindContext:
		var rctx Context
		if err := decodeExpanded(doc, &rctx, l.logger); err != nil {
			return err
		}
		return l.store.Contexts.Register(&rctx)
	case KindBinding:
		var binding FlowBinding
		if err := doc.Decode(&binding); err != nil {
			return err
		}
		return l.store.Bindings.Register(&binding)
	case KindWorkflow:
		var wf Workflow
		if err := doc.Decode(&wf); err != nil {
			return err
		}
		if err := l.store.Workflows.Register(&wf); err != nil {
			return err
		}
		// Workflows are a surface over the flow engine: translate at load.
		flow, err := wf.ToFlow()
		if err != nil {
			return err
		}
		return l.store.Flows.Register(flow)
	case "":
		return fmt.Errorf("missing kind")
	default:
		return fmt.Errorf("unknown kind %q", head.Kind)
	}
}

// Reload re-scans the last loaded directory into fresh registries and swaps
// them in atomically per kind.
func (l *Loader) Reload() (int, error) {
	if l.dir == "" {
		return 0, fmt.Errorf("no directory loaded yet")
	}
	fresh := NewStore()
	count, err := NewLoader(fresh, l.logger).LoadDirectory(l.dir)
	if err != nil {
		return 0, err
	}
	swapRegistry(l.store.Agents, fresh.Agents)
	swapRegistry(l.store.Flows, fresh.Flows)
	swapRegistry(l.store.Fleets, fresh.Fleets)
	swapRegistry(l.store.Triggers, fresh.Triggers)
	swapRegistry(l.store.Contexts, fresh.Contexts)
	swapRegistry(l.store.Bindings, fresh.Bindings)
	swapRegistry(l.store.Workflows, fresh.Workflows)
	return count, nil
}

func swapRegistry[T Object](dst, src *Registry[T]) {
	src.mu.RLock()
	items := src.items
	order := src.order
	src.mu.RUnlock()
	dst.replaceAll(items, order)
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces ${NAME} references with process environment values.
// Unresolved variables are kept as-is and logged.
func ExpandEnv(s string, logger *slog.Logger) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if logger != nil {
			logger.Warn("unresolved environment variable in resource", "variable", name)
		}
		return match
	})
}

// decodeExpanded round-trips the document through env expansion before
// decoding. Only Context and Trigger kinds support ${VAR} values.
func decodeExpanded(doc *yaml.Node, out any, logger *slog.Logger) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	expanded := ExpandEnv(string(raw), logger)
	return yaml.Unmarshal([]byte(expanded), out)
}
