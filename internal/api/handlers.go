package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/crawl-frontier/internal/completion"
	"github.com/JakeFAU/crawl-frontier/internal/coordinator"
	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

const (
	maxBodyBytes   = 32 << 20
	maxEventsLimit = 1000
)

type submitRequest struct {
	StartURL   string `json:"start_url"`
	MaxDepth   *int   `json:"max_depth,omitempty"`
	MaxPages   *int   `json:"max_pages,omitempty"`
	SameDomain *bool  `json:"same_domain,omitempty"`
}

type eventsResponse struct {
	Events []store.Entry `json:"events"`
	Next   int64         `json:"next"`
}

type jobResponse struct {
	PageID   string `json:"page_id"`
	CrawlID  string `json:"crawl_id"`
	URL      string `json:"url"`
	DeleteID string `json:"delete_id"`
}

type completeRequest struct {
	Content string   `json:"content"`
	Links   []string `json:"links"`
}

// completeResponse is the completed Page with the link admission report
// alongside its fields.
type completeResponse struct {
	crawler.Page
	Report completion.Report `json:"report"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.StartURL == "" {
		s.writeError(w, http.StatusBadRequest, "start_url is required")
		return
	}
	crawl, err := s.frontier.Submit(r.Context(), coordinator.Submission{
		StartURL:   req.StartURL,
		MaxDepth:   req.MaxDepth,
		MaxPages:   req.MaxPages,
		SameDomain: req.SameDomain,
	})
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, crawl)
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	crawl, err := s.frontier.GetCrawl(r.Context(), chi.URLParam(r, "crawlID"))
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, crawl)
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	hard, err := boolQuery(r, "hard")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "hard must be a boolean")
		return
	}
	crawl, err := s.frontier.StopCrawl(r.Context(), chi.URLParam(r, "crawlID"), hard)
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, crawl)
}

func (s *Server) crawlEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var after int64
	if raw := query.Get("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "after must be an integer")
			return
		}
		after = n
	}
	limit := store.DefaultListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventsLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := s.frontier.CrawlEvents(r.Context(), chi.URLParam(r, "crawlID"), after, limit)
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	resp := eventsResponse{Events: entries, Next: after}
	if resp.Events == nil {
		resp.Events = []store.Entry{}
	}
	if n := len(entries); n > 0 {
		resp.Next = entries[n-1].Seq
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pickJobs(w http.ResponseWriter, r *http.Request) {
	num := 1
	if raw := r.URL.Query().Get("num"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "num must be an integer")
			return
		}
		num = n
	}
	leases, err := s.frontier.PickJobs(r.Context(), r.URL.Query().Get("crawl"), num)
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(leases))
	for _, l := range leases {
		out = append(out, jobResponse{
			PageID:   l.PageID,
			CrawlID:  l.CrawlID,
			URL:      l.URL,
			DeleteID: base64.RawURLEncoding.EncodeToString(l.Token),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) ackJob(w http.ResponseWriter, r *http.Request) {
	token, err := base64.RawURLEncoding.DecodeString(chi.URLParam(r, "deleteID"))
	if err != nil || len(token) == 0 {
		s.writeError(w, http.StatusNotFound, "lease not found")
		return
	}
	if err := s.frontier.AckJob(r.Context(), chi.URLParam(r, "crawlID"), token); err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	hydrate, err := boolQuery(r, "hydrate")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "hydrate must be a boolean")
		return
	}
	page, err := s.frontier.GetPage(r.Context(), chi.URLParam(r, "pageID"), hydrate)
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) completePage(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	page, report, err := s.frontier.CompletePage(r.Context(), chi.URLParam(r, "pageID"), []byte(req.Content), req.Links)
	if err != nil {
		s.writeFrontierError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, completeResponse{Page: page, Report: report})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func boolQuery(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
