package history

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"serial-logger/internal/config"
	"serial-logger/pkg/protocol"
)

var dateTimePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}$`)

func newTestStore(t *testing.T, contents string, createIfMissing bool) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.xml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
	log, _ := test.NewNullLogger()
	return NewStore(config.HistoryConfig{
		Path:            path,
		RootElement:     "HISTORY",
		CreateIfMissing: createIfMissing,
	}, log)
}

func event(fields ...string) *protocol.Event {
	return &protocol.Event{
		Byte0:    fields[0],
		Byte1:    fields[1],
		Byte2:    fields[2],
		Byte3:    fields[3],
		Act:      fields[4],
		DateTime: protocol.FormatDateTime(time.Now()),
	}
}

func TestStore_AppendToEmptyHistory(t *testing.T) {
	s := newTestStore(t, "<HISTORY></HISTORY>", false)

	n, err := s.Append(context.Background(), event("12", "34", "56", "78", "ON"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(s.Path()))
	require.NotNil(t, doc.Root())
	assert.Equal(t, "HISTORY", doc.Root().Tag)

	events := doc.Root().ChildElements()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.ElementEvent, events[0].Tag)

	children := events[0].ChildElements()
	require.Len(t, children, 6)
	for i, name := range protocol.EventElements {
		assert.Equal(t, name, children[i].Tag)
	}
	assert.Equal(t, "12", children[0].Text())
	assert.Equal(t, "34", children[1].Text())
	assert.Equal(t, "56", children[2].Text())
	assert.Equal(t, "78", children[3].Text())
	assert.Equal(t, "ON", children[4].Text())
	assert.Regexp(t, dateTimePattern, children[5].Text())
}

func TestStore_AppendPreservesExistingContent(t *testing.T) {
	existing := `<LOG site="lab"><NOTE>started</NOTE>` +
		`<EVENT><BYTE0>1</BYTE0><BYTE1>2</BYTE1><BYTE2>3</BYTE2><BYTE3>4</BYTE3><ACT>OFF</ACT><DATETIME>01/01/2024 00:00:00</DATETIME></EVENT>` +
		`</LOG>`
	s := newTestStore(t, existing, false)

	n, err := s.Append(context.Background(), event("a", "b", "c", "d", "ON"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	doc, err := s.Load()
	require.NoError(t, err)
	root := doc.Root()
	assert.Equal(t, "LOG", root.Tag)
	assert.Equal(t, "lab", root.SelectAttrValue("site", ""))

	children := root.ChildElements()
	require.Len(t, children, 3)
	assert.Equal(t, "NOTE", children[0].Tag)
	assert.Equal(t, "started", children[0].Text())
	assert.Equal(t, "1", children[1].SelectElement("BYTE0").Text())
	assert.Equal(t, "01/01/2024 00:00:00", children[1].SelectElement("DATETIME").Text())
	assert.Equal(t, "a", children[2].SelectElement("BYTE0").Text())
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t, "<HISTORY/>", false)
	ctx := context.Background()

	inputs := [][]string{
		{"1", "2", "3", "4", "ON"},
		{"5", "6", "7", "8", "OFF"},
		{"", "x", "", "y", "ON"},
	}
	for _, in := range inputs {
		_, err := s.Append(ctx, event(in...))
		require.NoError(t, err)
	}

	events, err := s.Events()
	require.NoError(t, err)
	require.Len(t, events, len(inputs))
	for i, in := range inputs {
		assert.Equal(t, in, events[i].Values()[:5], "event %d", i)
		assert.Regexp(t, dateTimePattern, events[i].DateTime)
	}

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, len(inputs), count)
}

func TestStore_MissingFile(t *testing.T) {
	s := newTestStore(t, "", false)

	_, err := s.Append(context.Background(), event("1", "2", "3", "4", "ON"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, statErr := os.Stat(s.Path())
	assert.ErrorIs(t, statErr, fs.ErrNotExist, "nothing written on failure")
}

func TestStore_CreateIfMissing(t *testing.T) {
	s := newTestStore(t, "", true)

	n, err := s.Append(context.Background(), event("1", "2", "3", "4", "ON"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "HISTORY", doc.Root().Tag)
}

func TestStore_CorruptFile(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  error
	}{
		{name: "truncated tag", contents: "<HISTORY><EVENT"},
		{name: "no root element", contents: "just some text"},
		{name: "two root elements", contents: "<A/><B/>", wantErr: ErrMalformed},
		{name: "text after root", contents: "<HISTORY/>junk", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, tt.contents, true)

			_, err := s.Append(context.Background(), event("1", "2", "3", "4", "ON"))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			data, readErr := os.ReadFile(s.Path())
			require.NoError(t, readErr)
			assert.Equal(t, tt.contents, string(data), "corrupt file left untouched")
		})
	}
}

func TestStore_LoadAllowsProlog(t *testing.T) {
	contents := "<?xml version=\"1.0\"?>\n<!-- events -->\n<HISTORY/>\n"
	s := newTestStore(t, contents, false)

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "HISTORY", doc.Root().Tag)
}

func TestStore_AppendCancelledContext(t *testing.T) {
	s := newTestStore(t, "<HISTORY/>", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, event("1", "2", "3", "4", "ON"))
	assert.ErrorIs(t, err, context.Canceled)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_Init(t *testing.T) {
	s := newTestStore(t, "", false)

	created, err := s.Init()
	require.NoError(t, err)
	assert.True(t, created)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	created, err = s.Init()
	require.NoError(t, err)
	assert.False(t, created)
}

func TestStore_KeepsFileMode(t *testing.T) {
	s := newTestStore(t, "<HISTORY/>", false)
	require.NoError(t, os.Chmod(s.Path(), 0o640))

	_, err := s.Append(context.Background(), event("1", "2", "3", "4", "ON"))
	require.NoError(t, err)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	s := newTestStore(t, "<HISTORY/>", false)

	for i := 0; i < 3; i++ {
		_, err := s.Append(context.Background(), event("1", "2", "3", "4", "ON"))
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "history.xml", entries[0].Name())
}

func TestNewEventElement(t *testing.T) {
	el := NewEventElement(&protocol.Event{
		Byte0: "12", Byte1: "34", Byte2: "56", Byte3: "78", Act: "ON",
		DateTime: "05/03/2024 07:08:09",
	})

	doc := etree.NewDocument()
	doc.SetRoot(el)
	out, err := doc.WriteToString()
	require.NoError(t, err)
	assert.Equal(t,
		"<EVENT><BYTE0>12</BYTE0><BYTE1>34</BYTE1><BYTE2>56</BYTE2><BYTE3>78</BYTE3><ACT>ON</ACT><DATETIME>05/03/2024 07:08:09</DATETIME></EVENT>",
		out)
}
