// Package history keeps the XML history document: one root element holding
// EVENT elements in arrival order.
package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
	"serial-logger/internal/config"
	"serial-logger/pkg/protocol"
)

var (
	ErrNoRoot    = errors.New("history document has no root element")
	ErrMalformed = errors.New("history document is not well-formed")
)

// Store loads, appends to and rewrites the history file. Appends are
// serialized; the whole document is rewritten on every append.
type Store struct {
	path            string
	rootElement     string
	createIfMissing bool
	log             *logrus.Logger
	mu              sync.Mutex
}

func NewStore(cfg config.HistoryConfig, log *logrus.Logger) *Store {
	root := cfg.RootElement
	if root == "" {
		root = protocol.DefaultRootElement
	}
	return &Store{
		path:            cfg.Path,
		rootElement:     root,
		createIfMissing: cfg.CreateIfMissing,
		log:             log,
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load parses the history file. A missing file yields an empty document
// only when the store was configured to create it.
func (s *Store) Load() (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && s.createIfMissing {
			return s.emptyDocument(), nil
		}
		return nil, fmt.Errorf("load history %s: %w", s.path, err)
	}

	if doc.Root() == nil {
		return nil, fmt.Errorf("load history %s: %w", s.path, ErrNoRoot)
	}
	if err := checkTopLevel(doc); err != nil {
		return nil, fmt.Errorf("load history %s: %w", s.path, err)
	}
	return doc, nil
}

// checkTopLevel rejects what etree tolerates outside the root: a second
// element or stray text.
func checkTopLevel(doc *etree.Document) error {
	elements := 0
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			elements++
			if elements > 1 {
				return fmt.Errorf("%w: second top-level element <%s>", ErrMalformed, t.Tag)
			}
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return fmt.Errorf("%w: text outside the root element", ErrMalformed)
			}
		}
	}
	return nil
}

// Append adds e as the last child of the root and rewrites the file.
// It returns the number of EVENT elements after the append.
func (s *Store) Append(ctx context.Context, e *protocol.Event) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load()
	if err != nil {
		return 0, err
	}

	root := doc.Root()
	root.AddChild(NewEventElement(e))

	if err := s.write(doc); err != nil {
		return 0, err
	}

	return len(root.SelectElements(protocol.ElementEvent)), nil
}

// Events returns every recorded EVENT in document order. Only the six
// record fields are filled in.
func (s *Store) Events() ([]protocol.Event, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}

	elements := doc.Root().SelectElements(protocol.ElementEvent)
	events := make([]protocol.Event, 0, len(elements))
	for _, el := range elements {
		events = append(events, protocol.Event{
			Byte0:    childText(el, protocol.ElementByte0),
			Byte1:    childText(el, protocol.ElementByte1),
			Byte2:    childText(el, protocol.ElementByte2),
			Byte3:    childText(el, protocol.ElementByte3),
			Act:      childText(el, protocol.ElementAct),
			DateTime: childText(el, protocol.ElementDateTime),
		})
	}
	return events, nil
}

// Count returns the number of EVENT elements in the file.
func (s *Store) Count() (int, error) {
	doc, err := s.Load()
	if err != nil {
		return 0, err
	}
	return len(doc.Root().SelectElements(protocol.ElementEvent)), nil
}

// Init writes an empty document when the file does not exist yet and
// reports whether it did.
func (s *Store) Init() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat history %s: %w", s.path, err)
	}

	if err := s.write(s.emptyDocument()); err != nil {
		return false, err
	}
	s.log.Infof("Created empty history %s (root <%s>)", s.path, s.rootElement)
	return true, nil
}

// NewEventElement builds an EVENT element with its six children in order.
func NewEventElement(e *protocol.Event) *etree.Element {
	el := etree.NewElement(protocol.ElementEvent)
	values := e.Values()
	for i, name := range protocol.EventElements {
		el.CreateElement(name).SetText(values[i])
	}
	return el
}

func (s *Store) emptyDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateElement(s.rootElement)
	return doc
}

// write replaces the history file through a temp file in the same
// directory so readers never see a truncated document.
func (s *Store) write(doc *etree.Document) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*.xml")
	if err != nil {
		return fmt.Errorf("write history %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := doc.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write history %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync history %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close history %s: %w", s.path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod history %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace history %s: %w", s.path, err)
	}
	return nil
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return c.Text()
	}
	return ""
}
