package engine

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/drummonds/pdfpages/database"
	"github.com/drummonds/pdfpages/engine/pdfpage"
)

// pageKey identifies one cached page handle. The same page at two DPIs is two handles.
type pageKey struct {
	index int
	dpi   int
}

// session is one open document and the page handles opened from it
type session struct {
	doc      *pdfpage.Document
	pages    map[pageKey]*pdfpage.Page
	lastUsed time.Time
}

// SessionStats is a snapshot of what the store holds open
type SessionStats struct {
	Documents int `json:"documents"`
	Pages     int `json:"pages"`
}

// SessionStore keeps documents and pages open between requests so repeated
// queries on a page do not reparse the file. Idle sessions are closed by the
// reaper, pages first in one batch and then the document.
type SessionStore struct {
	mu       sync.Mutex
	engine   pdfpage.Engine
	sessions map[string]*session
	now      func() time.Time
}

// NewSessionStore creates an empty store over engine
func NewSessionStore(engine pdfpage.Engine) *SessionStore {
	return &SessionStore{
		engine:   engine,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// open returns the session for doc, loading the file on first use. Caller holds mu.
func (s *SessionStore) open(doc database.Document) (*session, error) {
	key := doc.ULID.String()
	if sess, ok := s.sessions[key]; ok {
		sess.lastUsed = s.now()
		return sess, nil
	}
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to read document %s: %w", key, err)
	}
	pdfDoc, err := pdfpage.Open(s.engine, data, "")
	if err != nil {
		return nil, err
	}
	Logger.Debug("Opened document session", "ulid", key, "name", doc.Name)
	sess := &session{doc: pdfDoc, pages: make(map[pageKey]*pdfpage.Page), lastUsed: s.now()}
	s.sessions[key] = sess
	return sess, nil
}

// Document returns the open document for doc
func (s *SessionStore) Document(doc database.Document) (*pdfpage.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.open(doc)
	if err != nil {
		return nil, err
	}
	return sess.doc, nil
}

// Page returns an open handle for page index of doc at dpi. The handle stays
// owned by the store and may be closed by the reaper at any time after the
// call returns, in which case using it fails with pdfpage.ErrPageClosed.
func (s *SessionStore) Page(doc database.Document, index, dpi int) (*pdfpage.Page, error) {
	if index < 0 || index >= doc.PageCount {
		return nil, fmt.Errorf("%w: page %d of %d", pdfpage.ErrInvalidArgument, index, doc.PageCount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.open(doc)
	if err != nil {
		return nil, err
	}
	key := pageKey{index: index, dpi: dpi}
	if page, ok := sess.pages[key]; ok && !page.Closed() {
		return page, nil
	}
	page, err := sess.doc.OpenPage(index, dpi)
	if err != nil {
		return nil, err
	}
	sess.pages[key] = page
	return page, nil
}

// closeSession closes every open page in one batch and then the document. Caller holds mu.
func closeSession(sess *session) (int, error) {
	pages := make([]*pdfpage.Page, 0, len(sess.pages))
	for _, page := range sess.pages {
		if !page.Closed() {
			pages = append(pages, page)
		}
	}
	pageErr := sess.doc.ClosePages(pages...)
	docErr := sess.doc.Close()
	if errors.Is(docErr, pdfpage.ErrDocumentClosed) {
		docErr = nil
	}
	if pageErr != nil {
		return 0, errors.Join(pageErr, docErr)
	}
	return len(pages), docErr
}

// CloseIdle closes every session unused for longer than maxIdle and reports
// how many pages and documents were closed.
func (s *SessionStore) CloseIdle(maxIdle time.Duration) (SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	return s.closeWhere(func(sess *session) bool { return !sess.lastUsed.After(cutoff) })
}

// CloseAll closes every session, used at shutdown
func (s *SessionStore) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.closeWhere(func(*session) bool { return true })
	return err
}

// closeWhere closes and forgets the sessions matching fn. Caller holds mu.
func (s *SessionStore) closeWhere(fn func(*session) bool) (SessionStats, error) {
	var closed SessionStats
	var errs []error
	for key, sess := range s.sessions {
		if !fn(sess) {
			continue
		}
		pages, err := closeSession(sess)
		delete(s.sessions, key)
		closed.Documents++
		closed.Pages += pages
		if err != nil {
			Logger.Error("Failed closing session", "ulid", key, "error", err)
			errs = append(errs, fmt.Errorf("session %s: %w", key, err))
		}
	}
	return closed, errors.Join(errs...)
}

// CloseDocument drops the session for one document if it is open
func (s *SessionStore) CloseDocument(ulidStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[ulidStr]
	if !ok {
		return nil
	}
	delete(s.sessions, ulidStr)
	_, err := closeSession(sess)
	return err
}

// Stats reports how many documents and page handles are open
func (s *SessionStore) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := SessionStats{Documents: len(s.sessions)}
	for _, sess := range s.sessions {
		for _, page := range sess.pages {
			if !page.Closed() {
				stats.Pages++
			}
		}
	}
	return stats
}
