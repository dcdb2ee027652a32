package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"docsync/internal/storage"
	"docsync/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingSaveStore struct {
	saves int
}

func (s *failingSaveStore) Load(context.Context) (*storage.DownloadedSet, error) {
	return storage.NewDownloadedSet(), nil
}

func (s *failingSaveStore) Save(context.Context, *storage.DownloadedSet) error {
	s.saves++
	return errors.New("disk full")
}

// ctxRecordingStore remembers the state of the context each Save ran under.
type ctxRecordingStore struct {
	saveErrs []error
	saved    []string
}

func (s *ctxRecordingStore) Load(context.Context) (*storage.DownloadedSet, error) {
	return storage.NewDownloadedSet(), nil
}

func (s *ctxRecordingStore) Save(ctx context.Context, set *storage.DownloadedSet) error {
	s.saveErrs = append(s.saveErrs, ctx.Err())
	s.saved = set.Sorted()
	return ctx.Err()
}

func newTestOrchestrator(session Session, fs afero.Fs, store StateStore, done *storage.DownloadedSet) *Orchestrator {
	return NewOrchestrator(session, fs, "/downloads", store, done, time.Second, nil, zap.NewNop())
}

func TestOrchestrator_SkipsKnownURL(t *testing.T) {
	session := newFakeSession()
	fs := afero.NewMemMapFs()
	done := storage.NewDownloadedSet("https://docs.example/dl?f=9")
	o := newTestOrchestrator(session, fs, storage.NewJSONStore(fs, "/state/downloaded.json"), done)

	out := o.Process(context.Background(), models.FileReference{URL: "https://docs.example/dl?f=9", SuggestedName: "Q1.pdf"})

	assert.Equal(t, StateSkipped, out.State)
	assert.Equal(t, []State{StatePending, StateSkipped}, out.Trail)
	assert.Empty(t, session.captured)
	assert.Empty(t, session.fetched)
}

func TestOrchestrator_CaptureSaved(t *testing.T) {
	session := newFakeSession()
	session.downloads["https://docs.example/dl?f=9"] = fakeDownload{name: "Q1 report?.pdf", body: []byte("pdf-bytes")}
	fs := afero.NewMemMapFs()
	store := storage.NewJSONStore(fs, "/state/downloaded.json")
	done := storage.NewDownloadedSet()
	o := newTestOrchestrator(session, fs, store, done)

	out := o.Process(context.Background(), models.FileReference{
		URL:           "https://docs.example/dl?f=9",
		SuggestedName: "Q1.pdf",
		LocalPath:     models.LocalPath{"Reports"},
	})

	require.Equal(t, StateSaved, out.State, "err: %v", out.Err)
	assert.Equal(t, []State{StatePending, StateCapturing, StateSaved}, out.Trail)
	assert.Equal(t, "Reports/Q1 report_.pdf", out.Path)

	data, err := afero.ReadFile(fs, "/downloads/Reports/Q1 report_.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://docs.example/dl?f=9"}, persisted.Sorted())
	assert.Empty(t, session.fetched)
}

func TestOrchestrator_FallbackSaved(t *testing.T) {
	payload := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}
	session := newFakeSession()
	session.fetches["https://docs.example/files/annual%20report.pdf"] = &models.FetchResponse{StatusCode: 200, Body: payload}
	fs := afero.NewMemMapFs()
	store := storage.NewJSONStore(fs, "/state/downloaded.json")
	o := newTestOrchestrator(session, fs, store, storage.NewDownloadedSet())

	out := o.Process(context.Background(), models.FileReference{
		URL:           "https://docs.example/files/annual%20report.pdf",
		SuggestedName: "Annual",
		LocalPath:     models.LocalPath{"A", "B"},
	})

	require.Equal(t, StateSaved, out.State, "err: %v", out.Err)
	assert.Equal(t, []State{StatePending, StateCapturing, StateTimedOut, StateFallback, StateSaved}, out.Trail)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)

	data, err := afero.ReadFile(fs, "/downloads/A/B/annual report.pdf")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, persisted.Has("https://docs.example/files/annual%20report.pdf"))
}

func TestOrchestrator_FallbackNameFromLinkText(t *testing.T) {
	session := newFakeSession()
	session.fetches["https://docs.example/dl/"] = &models.FetchResponse{StatusCode: 200, Body: []byte("x")}
	fs := afero.NewMemMapFs()
	o := newTestOrchestrator(session, fs, storage.NewJSONStore(fs, "/state/s.json"), storage.NewDownloadedSet())

	out := o.Process(context.Background(), models.FileReference{URL: "https://docs.example/dl/", SuggestedName: "Minutes"})
	require.Equal(t, StateSaved, out.State)
	assert.Equal(t, "Minutes", out.Path)
}

func TestOrchestrator_FallbackFailed(t *testing.T) {
	cases := map[string]*models.FetchResponse{
		"status": {StatusCode: 404, Body: []byte("not found")},
		"error":  nil,
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			session := newFakeSession()
			if resp != nil {
				session.fetches["https://docs.example/dl?f=9"] = resp
			}
			fs := afero.NewMemMapFs()
			done := storage.NewDownloadedSet()
			o := newTestOrchestrator(session, fs, storage.NewJSONStore(fs, "/state/s.json"), done)

			out := o.Process(context.Background(), models.FileReference{URL: "https://docs.example/dl?f=9", SuggestedName: "Q1.pdf"})

			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, []State{StatePending, StateCapturing, StateTimedOut, StateFallback, StateFailed}, out.Trail)
			assert.Error(t, out.Err)
			assert.False(t, done.Has("https://docs.example/dl?f=9"))

			exists, _ := afero.Exists(fs, "/downloads/Q1.pdf")
			assert.False(t, exists)
		})
	}
}

func TestOrchestrator_StatusErrorIsClassified(t *testing.T) {
	session := newFakeSession()
	session.fetches["https://docs.example/dl?f=9"] = &models.FetchResponse{StatusCode: 500}
	fs := afero.NewMemMapFs()
	o := newTestOrchestrator(session, fs, storage.NewJSONStore(fs, "/state/s.json"), storage.NewDownloadedSet())

	out := o.Process(context.Background(), models.FileReference{URL: "https://docs.example/dl?f=9"})
	assert.ErrorIs(t, out.Err, ErrFetchStatus)
}

func TestOrchestrator_StateSaveFailureStillSaves(t *testing.T) {
	session := newFakeSession()
	session.downloads["https://docs.example/dl?f=9"] = fakeDownload{name: "Q1.pdf", body: []byte("x")}
	fs := afero.NewMemMapFs()
	store := &failingSaveStore{}
	done := storage.NewDownloadedSet()
	o := newTestOrchestrator(session, fs, store, done)

	out := o.Process(context.Background(), models.FileReference{URL: "https://docs.example/dl?f=9"})

	assert.Equal(t, StateSaved, out.State)
	assert.Equal(t, 1, store.saves)
	assert.True(t, done.Has("https://docs.example/dl?f=9"))
}

func TestOrchestrator_InterruptAfterWriteStillRecords(t *testing.T) {
	session := newFakeSession()
	session.downloads["https://docs.example/dl?f=9"] = fakeDownload{name: "Q1.pdf", body: []byte("x")}
	fs := afero.NewMemMapFs()
	store := &ctxRecordingStore{}
	o := newTestOrchestrator(session, fs, store, storage.NewDownloadedSet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	session.onCapture = func(string) { cancel() }

	out := o.Process(ctx, models.FileReference{URL: "https://docs.example/dl?f=9"})

	assert.Equal(t, StateSaved, out.State)
	require.Len(t, store.saveErrs, 1)
	assert.NoError(t, store.saveErrs[0], "state is saved even though the run was interrupted")
	assert.Equal(t, []string{"https://docs.example/dl?f=9"}, store.saved)
}

func TestOrchestrator_CancelledContextFails(t *testing.T) {
	session := newFakeSession()
	fs := afero.NewMemMapFs()
	o := newTestOrchestrator(session, fs, storage.NewJSONStore(fs, "/state/s.json"), storage.NewDownloadedSet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := o.Process(ctx, models.FileReference{URL: "https://docs.example/dl?f=9"})
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, session.fetched)
}

func TestPickFilename(t *testing.T) {
	assert.Equal(t, "Q1.pdf", pickFilename("Q1.pdf", "ignored"))
	assert.Equal(t, "Q1_.pdf", pickFilename("", "Q1?.pdf"))
	assert.Equal(t, "link", pickFilename("   ", "link"))
	assert.Equal(t, "file", pickFilename("", ""))
}

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "dl", lastPathSegment("https://docs.example/dl?f=9"))
	assert.Equal(t, "a b.pdf", lastPathSegment("https://docs.example/x/a%20b.pdf"))
	assert.Equal(t, "a/b.pdf", lastPathSegment("https://docs.example/a%2Fb.pdf"), "encoded slash stays in the name")
	assert.Equal(t, "a_b.pdf", pickFilename(lastPathSegment("https://docs.example/a%2Fb.pdf"), ""))
	assert.Equal(t, "", lastPathSegment("https://docs.example/"))
	assert.Equal(t, "", lastPathSegment("https://docs.example"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateFallback.Terminal())
}
