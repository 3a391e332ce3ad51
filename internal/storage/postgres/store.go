package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

const (
	crawlColumns = "id, start_url, same_domain, max_depth, max_pages, status, visited, created_at, queue_url, dlq_url"
	pageColumns  = "id, crawl_id, url, depth, status, links, COALESCE(content_key, ''), visited_at"
)

// StoreConfig names the tables used by Store.
type StoreConfig struct {
	CrawlTable string
	PageTable  string
}

// Store persists crawls and pages in Postgres. The visited budget is enforced
// by a single conditional UPDATE.
type Store struct {
	pool   Pool
	crawls string
	pages  string
}

// NewStore constructs a Store over an existing pool.
func NewStore(pool Pool, cfg StoreConfig) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg.CrawlTable == "" {
		cfg.CrawlTable = "crawls"
	}
	if cfg.PageTable == "" {
		cfg.PageTable = "pages"
	}
	for _, table := range []string{cfg.CrawlTable, cfg.PageTable} {
		if err := ValidateTableName(table); err != nil {
			return nil, err
		}
	}
	return &Store{pool: pool, crawls: cfg.CrawlTable, pages: cfg.PageTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateCrawl inserts a crawl row.
func (s *Store) CreateCrawl(ctx context.Context, c crawler.Crawl) error {
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, s.crawls, crawlColumns)
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.StartURL, c.SameDomain, c.MaxDepth, c.MaxPages,
		string(c.Status), c.Visited, c.Created, c.QueueURL, c.DLQURL,
	)
	if err != nil {
		return fmt.Errorf("insert crawl: %w", err)
	}
	return nil
}

// GetCrawl fetches a crawl by ID.
func (s *Store) GetCrawl(ctx context.Context, crawlID string) (crawler.Crawl, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, crawlColumns, s.crawls)
	crawl, err := scanCrawl(s.pool.QueryRow(ctx, query, crawlID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Crawl{}, fmt.Errorf("crawl %s: %w", crawlID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("select crawl: %w", err)
	}
	return crawl, nil
}

// IncrementVisited reserves one page of the crawl's budget.
func (s *Store) IncrementVisited(ctx context.Context, crawlID string) (crawler.Crawl, error) {
	query := fmt.Sprintf(`
UPDATE %s SET visited = visited + 1
WHERE id = $1 AND (max_pages = -1 OR visited < max_pages)
RETURNING %s`, s.crawls, crawlColumns)
	crawl, err := scanCrawl(s.pool.QueryRow(ctx, query, crawlID))
	if err == nil {
		return crawl, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return crawler.Crawl{}, fmt.Errorf("increment visited: %w", err)
	}
	exists, err := s.crawlExists(ctx, crawlID)
	if err != nil {
		return crawler.Crawl{}, err
	}
	if !exists {
		return crawler.Crawl{}, fmt.Errorf("crawl %s: %w", crawlID, crawler.ErrNotFound)
	}
	return crawler.Crawl{}, crawler.ErrConditionFailed
}

func (s *Store) crawlExists(ctx context.Context, crawlID string) (bool, error) {
	var one int
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1`, s.crawls)
	err := s.pool.QueryRow(ctx, query, crawlID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check crawl: %w", err)
	}
	return true, nil
}

// SetCrawlStatus updates the crawl status and returns the new record.
func (s *Store) SetCrawlStatus(ctx context.Context, crawlID string, status crawler.CrawlStatus) (crawler.Crawl, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE id = $1 RETURNING %s`, s.crawls, crawlColumns)
	crawl, err := scanCrawl(s.pool.QueryRow(ctx, query, crawlID, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Crawl{}, fmt.Errorf("crawl %s: %w", crawlID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Crawl{}, fmt.Errorf("update crawl status: %w", err)
	}
	return crawl, nil
}

// ListCrawlsByStatus returns crawls in the given status ordered by creation time.
func (s *Store) ListCrawlsByStatus(ctx context.Context, status crawler.CrawlStatus) ([]crawler.Crawl, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY created_at, id`, crawlColumns, s.crawls)
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list crawls: %w", err)
	}
	defer rows.Close()

	var out []crawler.Crawl
	for rows.Next() {
		crawl, err := scanCrawl(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl: %w", err)
		}
		out = append(out, crawl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawls: %w", err)
	}
	return out, nil
}

// CreatePage inserts a page row.
func (s *Store) CreatePage(ctx context.Context, p crawler.Page) error {
	links := p.Links
	if links == nil {
		links = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, crawl_id, url, depth, status, links, content_key, visited_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''),$8)`, s.pages)
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.CrawlID, p.URL, p.Depth, string(p.Status), links, p.ContentKey, p.Visited,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// GetPage fetches a page by ID.
func (s *Store) GetPage(ctx context.Context, pageID string) (crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, pageColumns, s.pages)
	page, err := scanPage(s.pool.QueryRow(ctx, query, pageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Page{}, fmt.Errorf("page %s: %w", pageID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("select page: %w", err)
	}
	return page, nil
}

// FindPageByURL looks a page up through the (crawl_id, url) index.
func (s *Store) FindPageByURL(ctx context.Context, crawlID, url string) (crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE crawl_id = $1 AND url = $2 LIMIT 1`, pageColumns, s.pages)
	page, err := scanPage(s.pool.QueryRow(ctx, query, crawlID, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Page{}, fmt.Errorf("page %s: %w", url, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("select page by url: %w", err)
	}
	return page, nil
}

// MarkPageCrawling moves a page to crawling.
func (s *Store) MarkPageCrawling(ctx context.Context, pageID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, visited_at = $3 WHERE id = $1`, s.pages)
	tag, err := s.pool.Exec(ctx, query, pageID, string(crawler.PageStatusCrawling), at)
	if err != nil {
		return fmt.Errorf("mark page crawling: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("page %s: %w", pageID, crawler.ErrNotFound)
	}
	return nil
}

// CompletePage records links and content for a page and marks it completed.
func (s *Store) CompletePage(
	ctx context.Context,
	pageID string,
	links []string,
	contentKey string,
	at time.Time,
) (crawler.Page, error) {
	if links == nil {
		links = []string{}
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, links = $3, content_key = $4, visited_at = $5
WHERE id = $1
RETURNING %s`, s.pages, pageColumns)
	page, err := scanPage(s.pool.QueryRow(ctx, query,
		pageID, string(crawler.PageStatusCompleted), links, contentKey, at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Page{}, fmt.Errorf("page %s: %w", pageID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("complete page: %w", err)
	}
	return page, nil
}

func scanCrawl(row scanner) (crawler.Crawl, error) {
	var (
		c      crawler.Crawl
		status string
	)
	if err := row.Scan(
		&c.ID, &c.StartURL, &c.SameDomain, &c.MaxDepth, &c.MaxPages,
		&status, &c.Visited, &c.Created, &c.QueueURL, &c.DLQURL,
	); err != nil {
		return crawler.Crawl{}, err //nolint:wrapcheck // callers wrap with context
	}
	c.Status = crawler.CrawlStatus(status)
	return c, nil
}

func scanPage(row scanner) (crawler.Page, error) {
	var (
		p      crawler.Page
		status string
	)
	if err := row.Scan(
		&p.ID, &p.CrawlID, &p.URL, &p.Depth, &status, &p.Links, &p.ContentKey, &p.Visited,
	); err != nil {
		return crawler.Page{}, err //nolint:wrapcheck // callers wrap with context
	}
	p.Status = crawler.PageStatus(status)
	if len(p.Links) == 0 {
		p.Links = nil
	}
	return p, nil
}
