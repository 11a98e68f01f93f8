// Package sqlitestore is the pure-Go (modernc.org/sqlite, no cgo) concrete
// adapter for vectorstore.Backend. It mirrors the FTS5 + embeddings tables
// and the serialize/cosine-similarity helpers the HOROS embedding stack
// uses, and merges FTS5 BM25 with vector cosine the way the RAG retrieval
// handler's hybridSearch does: run both legs, union by chunk id, keep the
// max score. Embedding is delegated to a horosembed.Embedder supplied at
// construction, per spec: the store embeds chunk text and query text
// itself, callers never see raw vectors.
package sqlitestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/scrapeqa/dbopen"
	"github.com/hazyhaar/scrapeqa/horosembed"
	"github.com/hazyhaar/scrapeqa/vectorstore"
)

const backendName = "sqlite"

// Store is a vectorstore.Backend backed by a single SQLite database file.
type Store struct {
	db         *sql.DB
	collection string
	embedder   horosembed.Embedder
}

// Open opens (creating if absent) the database at path with the chunk/
// embedding schema applied. collection names this store for Health(), and
// embedder is the capability used to turn chunk/query text into vectors.
// embedder.Dimension() is recorded in collection_meta on first open and
// checked against on every subsequent open, so swapping to a
// differently-dimensioned embedder fails at construction rather than
// corrupting similarity scores (the store reads the dimension once, per
// the spec's embedder-dimension Open Question resolution). An embedder that
// reports dimension 0 at construction (not yet auto-detected) is neither
// recorded nor checked.
func Open(path, collection string, embedder horosembed.Embedder) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	s := &Store{db: db, collection: collection, embedder: embedder}
	if err := s.checkDimension(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory(embedder horosembed.Embedder) (*Store, error) {
	db, err := dbopen.Open(":memory:", dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, collection: "test", embedder: embedder}
	if err := s.checkDimension(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkDimension() error {
	dim := s.embedder.Dimension()
	if dim <= 0 {
		return nil
	}
	var stored string
	err := s.db.QueryRow(`SELECT value FROM collection_meta WHERE key = 'embedder_dimension'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.Exec(`INSERT INTO collection_meta (key, value) VALUES ('embedder_dimension', ?)`,
			strconv.Itoa(dim))
		return err
	case err != nil:
		return err
	}
	if stored != strconv.Itoa(dim) {
		return fmt.Errorf("sqlitestore: embedder dimension mismatch: store has %s, embedder reports %d", stored, dim)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Health(ctx context.Context) (bool, string, string, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return false, backendName, s.collection, err
	}
	return true, backendName, s.collection, nil
}

// chunkID derives a stable id from domain, page URL, and ordinal, so the
// same chunk position always maps to the same id across re-embeds.
func chunkID(domain, pageURL string, index int) string {
	h := sha256.Sum256([]byte(domain + "|" + pageURL + "|" + strconv.Itoa(index)))
	return hex.EncodeToString(h[:16])
}

// UpsertChunks embeds page.Chunks in one batch call and atomically replaces
// every chunk previously stored for (page.Domain, page.PageURL), so
// re-embedding a page (e.g. after a content change) never leaves stale or
// duplicate chunks.
func (s *Store) UpsertChunks(ctx context.Context, page vectorstore.PageChunks) error {
	if page.Domain == "" {
		return fmt.Errorf("sqlitestore: upsert requires a domain")
	}

	texts := make([]string, len(page.Chunks))
	for i, c := range page.Chunks {
		texts[i] = c.ChunkText
	}
	var vectors [][]float32
	if len(texts) > 0 {
		var err error
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("sqlitestore: embed chunks: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE domain = ? AND page_url = ?`,
		page.Domain, page.PageURL); err != nil {
		return fmt.Errorf("sqlitestore: delete stale chunks: %w", err)
	}

	now := time.Now().Unix()
	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, domain, site_name, page_name, page_url, chunk_index, text, char_count, overlap_prev, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertChunk.Close()

	insertEmbedding, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, embedding, dimension, norm, model_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insertEmbedding.Close()

	modelName := s.embedder.Model()
	for i, c := range page.Chunks {
		id := chunkID(page.Domain, page.PageURL, c.Index)
		if _, err := insertChunk.ExecContext(ctx, id, page.Domain, page.SiteName, page.PageName,
			page.PageURL, c.Index, c.ChunkText, c.CharCount, c.OverlapPrev, now); err != nil {
			return fmt.Errorf("sqlitestore: insert chunk: %w", err)
		}
		vec := vectors[i]
		if len(vec) == 0 {
			continue
		}
		blob := horosembed.SerializeVector(vec)
		norm := horosembed.CalculateNorm(vec)
		if _, err := insertEmbedding.ExecContext(ctx, id, blob, len(vec), norm, modelName, now); err != nil {
			return fmt.Errorf("sqlitestore: insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) DeleteDomain(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE domain = ?`, domain)
	return err
}

func (s *Store) DeleteCollection(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks`)
	return err
}

// Search embeds query.QueryText, runs FTS5 BM25 search and cosine vector
// search, then merges by chunk id keeping the higher score — the same
// union-dedup-max strategy as the RAG retrieval handler's hybridSearch.
func (s *Store) Search(ctx context.Context, q vectorstore.SearchQuery) ([]vectorstore.Hit, error) {
	if q.Domain == "" {
		return nil, fmt.Errorf("sqlitestore: search requires a domain")
	}
	topK := q.TopK
	if topK <= 0 {
		return nil, nil
	}

	ftsHits, err := s.ftsSearch(ctx, q, topK*2)
	if err != nil {
		ftsHits = nil
	}

	var vecHits []vectorstore.Hit
	if strings.TrimSpace(q.QueryText) != "" {
		queryVec, err := s.embedder.Embed(ctx, q.QueryText)
		if err == nil && len(queryVec) > 0 {
			vecHits, err = s.vectorSearch(ctx, q, queryVec, topK*2)
			if err != nil {
				vecHits = nil
			}
		}
	}

	merged := mergeHits(ftsHits, vecHits)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })

	var out []vectorstore.Hit
	for _, h := range merged {
		if h.Score < q.MinScore {
			continue
		}
		out = append(out, h)
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func mergeHits(a, b []vectorstore.Hit) []vectorstore.Hit {
	seen := make(map[string]vectorstore.Hit, len(a)+len(b))
	for _, h := range a {
		seen[h.ChunkID] = h
	}
	for _, h := range b {
		if existing, ok := seen[h.ChunkID]; !ok || h.Score > existing.Score {
			seen[h.ChunkID] = h
		}
	}
	out := make([]vectorstore.Hit, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	return out
}

func (s *Store) ftsSearch(ctx context.Context, q vectorstore.SearchQuery, limit int) ([]vectorstore.Hit, error) {
	ftsQuery := sanitizeFTS5(q.QueryText)
	if ftsQuery == "" {
		return nil, nil
	}

	args := []interface{}{ftsQuery, q.Domain}
	siteFilter := ""
	if q.FilterSite != "" {
		siteFilter = " AND c.site_name = ?"
		args = append(args, q.FilterSite)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.text, c.domain, c.site_name, c.page_name, c.page_url, c.chunk_index, chunks_fts.rank
		FROM chunks_fts
		INNER JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ? AND c.domain = ?`+siteFilter+`
		ORDER BY chunks_fts.rank
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var h vectorstore.Hit
		var rank float64
		if err := rows.Scan(&h.ChunkID, &h.ChunkText, &h.Domain, &h.SiteName, &h.PageName, &h.PageURL, &h.ChunkIndex, &rank); err != nil {
			continue
		}
		h.Score = normalizeRank(rank)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) vectorSearch(ctx context.Context, q vectorstore.SearchQuery, queryVec []float32, limit int) ([]vectorstore.Hit, error) {
	queryNorm := horosembed.CalculateNorm(queryVec)

	args := []interface{}{q.Domain}
	siteFilter := ""
	if q.FilterSite != "" {
		siteFilter = " AND c.site_name = ?"
		args = append(args, q.FilterSite)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.text, c.domain, c.site_name, c.page_name, c.page_url, c.chunk_index, e.embedding, e.norm
		FROM embeddings e
		INNER JOIN chunks c ON c.id = e.chunk_id
		WHERE c.domain = ?`+siteFilter, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		hit   vectorstore.Hit
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var h vectorstore.Hit
		var blob []byte
		var docNorm float64
		if err := rows.Scan(&h.ChunkID, &h.ChunkText, &h.Domain, &h.SiteName, &h.PageName, &h.PageURL, &h.ChunkIndex, &blob, &docNorm); err != nil {
			continue
		}
		score := horosembed.CosineSimilarityOptimized(queryVec, horosembed.DeserializeVector(blob), queryNorm, docNorm)
		candidates = append(candidates, scored{hit: h, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits := make([]vectorstore.Hit, len(candidates))
	for i, c := range candidates {
		hit := c.hit
		hit.Score = c.score
		hits[i] = hit
	}
	return hits, nil
}

// sanitizeFTS5 strips characters FTS5 interprets as query syntax.
func sanitizeFTS5(q string) string {
	var b strings.Builder
	for _, r := range q {
		switch r {
		case '"', '*', '(', ')', '+', '-', '^', ':', ',', '{', '}', '!', '~', '?':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeRank maps an FTS5 bm25 rank (negative, lower-is-better) onto a
// 0..1 relevance score comparable to cosine similarity.
func normalizeRank(rank float64) float64 {
	score := -rank / (1.0 - rank)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

