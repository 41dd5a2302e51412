package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kaeldominion/CrowdStack-sub002/pkg/logger"
)

// AuditAction is the kind of change an audit entry records
type AuditAction string

const (
	AuditActionCreate          AuditAction = "create"
	AuditActionUpdate          AuditAction = "update"
	AuditActionDelete          AuditAction = "delete"
	AuditActionOverrideCheckin AuditAction = "override_checkins"
	AuditActionAdjustPayout    AuditAction = "adjust_payout"
	AuditActionSetStep         AuditAction = "set_closeout_step"
	AuditActionFinalize        AuditAction = "finalize_closeout"
)

// Context keys handlers use to enrich the audit entry
const (
	ContextKeyAuditResourceType = "audit_resource_type"
	ContextKeyAuditResourceID   = "audit_resource_id"
	ContextKeyAuditOldValues    = "audit_old_values"
	ContextKeyAuditNewValues    = "audit_new_values"
	ContextKeyAuditMetadata     = "audit_metadata"
	contextKeyAuditSkip         = "audit_skip"
)

// AuditEntry is one row of audit_logs
type AuditEntry struct {
	ID           string                 `json:"id"`
	TenantID     *string                `json:"tenant_id,omitempty"`
	UserID       *string                `json:"user_id,omitempty"`
	UserEmail    string                 `json:"user_email,omitempty"`
	UserRole     string                 `json:"user_role,omitempty"`
	Action       AuditAction            `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	StatusCode   int                    `json:"status_code"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	UserAgent    string                 `json:"user_agent,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	OldValues    map[string]interface{} `json:"old_values,omitempty"`
	NewValues    map[string]interface{} `json:"new_values,omitempty"`
	Changes      map[string]interface{} `json:"changes,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AuditSink persists batches of audit entries
type AuditSink interface {
	WriteAudit(ctx context.Context, entries []*AuditEntry) error
}

// AuditConfig holds configuration for the audit middleware
type AuditConfig struct {
	Sink          AuditSink
	Logger        *logger.Logger
	BufferSize    int           // default 1000
	FlushInterval time.Duration // default 5s
	BatchSize     int           // default 100
	SkipPaths     []string
	// SkipMethods defaults to GET, HEAD, OPTIONS
	SkipMethods       []string
	ActionMapper      func(method, path string) AuditAction
	ResourceExtractor func(path string) (resourceType string, resourceID string)
	// CaptureRequestBody stores the masked JSON body as new values when a handler sets none
	CaptureRequestBody bool
	MaxBodySize        int
	SensitiveFields    []string
}

// DefaultAuditConfig returns a config writing to audit_logs through pool
func DefaultAuditConfig(pool *pgxpool.Pool) *AuditConfig {
	var sink AuditSink
	if pool != nil {
		sink = &PostgresAuditSink{pool: pool}
	}
	return &AuditConfig{
		Sink:               sink,
		BufferSize:         1000,
		FlushInterval:      5 * time.Second,
		BatchSize:          100,
		SkipPaths:          []string{"/health", "/ready"},
		SkipMethods:        []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		ActionMapper:       CloseoutActionMapper,
		ResourceExtractor:  CloseoutResourceExtractor,
		CaptureRequestBody: true,
		MaxBodySize:        10 * 1024,
		SensitiveFields:    []string{"password", "token", "secret", "api_key"},
	}
}

// PostgresAuditSink inserts entries into audit_logs in one pgx batch
type PostgresAuditSink struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditSink creates a sink backed by pool
func NewPostgresAuditSink(pool *pgxpool.Pool) *PostgresAuditSink {
	return &PostgresAuditSink{pool: pool}
}

const insertAuditSQL = `
	INSERT INTO audit_logs (
		id, tenant_id, user_id, user_email, user_role,
		action, resource_type, resource_id, status_code,
		ip_address, user_agent, request_id,
		old_values, new_values, changes, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

// WriteAudit implements AuditSink
func (s *PostgresAuditSink) WriteAudit(ctx context.Context, entries []*AuditEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertAuditSQL,
			e.ID, e.TenantID, e.UserID, e.UserEmail, e.UserRole,
			string(e.Action), e.ResourceType, e.ResourceID, e.StatusCode,
			e.IPAddress, e.UserAgent, e.RequestID,
			jsonOrNil(e.OldValues), jsonOrNil(e.NewValues), jsonOrNil(e.Changes), jsonOrEmpty(e.Metadata), e.CreatedAt,
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func jsonOrNil(m map[string]interface{}) []byte {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func jsonOrEmpty(m map[string]interface{}) []byte {
	if b := jsonOrNil(m); b != nil {
		return b
	}
	return []byte("{}")
}

// AuditLogger buffers entries and flushes them from a background worker
type AuditLogger struct {
	config    *AuditConfig
	log       *logger.Logger
	buffer    chan *AuditEntry
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAuditLogger starts the flush worker
func NewAuditLogger(config *AuditConfig) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 10 * 1024
	}
	log := config.Logger
	if log == nil {
		log = logger.NewNop()
	}

	al := &AuditLogger{
		config: config,
		log:    log,
		buffer: make(chan *AuditEntry, config.BufferSize),
	}

	al.wg.Add(1)
	go al.worker()

	return al
}

// Log enqueues an entry without blocking; a full buffer drops it
func (al *AuditLogger) Log(entry *AuditEntry) {
	select {
	case al.buffer <- entry:
	default:
		al.log.Warn("audit buffer full, dropping entry",
			zap.String("action", string(entry.Action)),
			zap.String("resource_type", entry.ResourceType),
		)
	}
}

// Close flushes pending entries and stops the worker
func (al *AuditLogger) Close() error {
	al.closeOnce.Do(func() {
		close(al.buffer)
		al.wg.Wait()
	})
	return nil
}

func (al *AuditLogger) worker() {
	defer al.wg.Done()

	ticker := time.NewTicker(al.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*AuditEntry, 0, al.config.BatchSize)

	for {
		select {
		case entry, ok := <-al.buffer:
			if !ok {
				al.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= al.config.BatchSize {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.config.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				al.flush(batch)
				batch = make([]*AuditEntry, 0, al.config.BatchSize)
			}
		}
	}
}

func (al *AuditLogger) flush(entries []*AuditEntry) {
	if len(entries) == 0 || al.config.Sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Audit failures never reach the request path
	if err := al.config.Sink.WriteAudit(ctx, entries); err != nil {
		al.log.Error("failed to write audit entries", zap.Int("count", len(entries)), zap.Error(err))
	}
}

// AuditMiddleware records one entry per mutating request after the handler runs
func AuditMiddleware(al *AuditLogger) gin.HandlerFunc {
	config := al.config
	skipMethods := make(map[string]struct{}, len(config.SkipMethods))
	for _, m := range config.SkipMethods {
		skipMethods[m] = struct{}{}
	}

	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if strings.HasPrefix(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}
		if _, ok := skipMethods[c.Request.Method]; ok {
			c.Next()
			return
		}

		var requestBody map[string]interface{}
		if config.CaptureRequestBody && c.Request.Body != nil {
			bodyBytes, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(config.MaxBodySize)))
			if err == nil && len(bodyBytes) > 0 {
				c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				if json.Unmarshal(bodyBytes, &requestBody) == nil {
					requestBody = maskSensitiveFields(requestBody, config.SensitiveFields)
				}
			}
		}

		startTime := time.Now().UTC()

		c.Next()

		if skip, ok := c.Get(contextKeyAuditSkip); ok {
			if b, _ := skip.(bool); b {
				return
			}
		}

		entry := &AuditEntry{
			ID:         uuid.New().String(),
			StatusCode: c.Writer.Status(),
			CreatedAt:  startTime,
		}

		if userID, ok := GetUserID(c); ok && userID != "" {
			entry.UserID = &userID
		}
		entry.UserEmail, _ = GetEmail(c)
		entry.UserRole, _ = GetRole(c)
		if tenantID, ok := GetTenantID(c); ok && tenantID != "" {
			entry.TenantID = &tenantID
		}

		if config.ActionMapper != nil {
			entry.Action = config.ActionMapper(c.Request.Method, c.Request.URL.Path)
		}
		if config.ResourceExtractor != nil {
			resourceType, resourceID := config.ResourceExtractor(c.Request.URL.Path)
			entry.ResourceType = resourceType
			if resourceID != "" {
				entry.ResourceID = &resourceID
			}
		}

		if rt, ok := c.Get(ContextKeyAuditResourceType); ok {
			if s, ok := rt.(string); ok {
				entry.ResourceType = s
			}
		}
		if rid, ok := c.Get(ContextKeyAuditResourceID); ok {
			if s, ok := rid.(string); ok && s != "" {
				entry.ResourceID = &s
			}
		}
		entry.OldValues = getMap(c, ContextKeyAuditOldValues)
		entry.NewValues = getMap(c, ContextKeyAuditNewValues)
		entry.Metadata = getMap(c, ContextKeyAuditMetadata)

		if entry.OldValues != nil && entry.NewValues != nil {
			entry.Changes = computeChanges(entry.OldValues, entry.NewValues)
		}
		if entry.NewValues == nil && requestBody != nil {
			entry.NewValues = requestBody
		}

		entry.IPAddress = getClientIP(c)
		entry.UserAgent = c.GetHeader("User-Agent")
		entry.RequestID = c.GetHeader(HeaderRequestID)
		if entry.RequestID == "" {
			entry.RequestID, _ = getString(c, ContextKeyRequestID)
		}

		al.Log(entry)
	}
}

func getMap(c *gin.Context, key string) map[string]interface{} {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

// CloseoutActionMapper derives the audit action from closeout routes
func CloseoutActionMapper(method, path string) AuditAction {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, "/closeout/finalize"):
		return AuditActionFinalize
	case strings.HasSuffix(p, "/checkins"):
		return AuditActionOverrideCheckin
	case strings.HasSuffix(p, "/adjustment"):
		return AuditActionAdjustPayout
	case strings.HasSuffix(p, "/closeout/status"):
		return AuditActionSetStep
	}

	switch method {
	case http.MethodPost:
		return AuditActionCreate
	case http.MethodDelete:
		return AuditActionDelete
	default:
		return AuditActionUpdate
	}
}

// CloseoutResourceExtractor maps /api/v1/events/{id}/closeout/... to
// ("event_closeout", id) and promoter routes to ("promoter_closeout_line", id)
func CloseoutResourceExtractor(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	resourceType, resourceID := "unknown", ""
	for i := 0; i < len(parts)-1; i++ {
		switch parts[i] {
		case "events":
			resourceType, resourceID = "event", parts[i+1]
		case "closeout":
			if resourceType == "event" {
				resourceType = "event_closeout"
			}
		case "promoters":
			resourceType, resourceID = "promoter_closeout_line", resourceID+"/"+parts[i+1]
		}
	}
	return resourceType, resourceID
}

func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return ip
}

func maskSensitiveFields(data map[string]interface{}, sensitiveFields []string) map[string]interface{} {
	if data == nil {
		return nil
	}

	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		lowKey := strings.ToLower(k)
		masked := false
		for _, sf := range sensitiveFields {
			if strings.Contains(lowKey, strings.ToLower(sf)) {
				result[k] = "[REDACTED]"
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			result[k] = maskSensitiveFields(nested, sensitiveFields)
		} else {
			result[k] = v
		}
	}
	return result
}

func computeChanges(oldVals, newVals map[string]interface{}) map[string]interface{} {
	changes := make(map[string]interface{})

	for k, newV := range newVals {
		oldV, exists := oldVals[k]
		if !exists || !jsonEqual(oldV, newV) {
			changes[k] = map[string]interface{}{"old": oldV, "new": newV}
		}
	}
	for k, oldV := range oldVals {
		if _, exists := newVals[k]; !exists {
			changes[k] = map[string]interface{}{"old": oldV, "new": nil}
		}
	}

	return changes
}

func jsonEqual(a, b interface{}) bool {
	aJSON, err1 := json.Marshal(a)
	bJSON, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(aJSON, bJSON)
}

// SetAuditResourceType overrides the extracted resource type
func SetAuditResourceType(c *gin.Context, resourceType string) {
	c.Set(ContextKeyAuditResourceType, resourceType)
}

// SetAuditResourceID overrides the extracted resource id
func SetAuditResourceID(c *gin.Context, resourceID string) {
	c.Set(ContextKeyAuditResourceID, resourceID)
}

// SetAuditOldValues records the state before the change
func SetAuditOldValues(c *gin.Context, oldValues map[string]interface{}) {
	c.Set(ContextKeyAuditOldValues, oldValues)
}

// SetAuditNewValues records the state after the change
func SetAuditNewValues(c *gin.Context, newValues map[string]interface{}) {
	c.Set(ContextKeyAuditNewValues, newValues)
}

// SetAuditMetadata attaches extra context to the entry
func SetAuditMetadata(c *gin.Context, metadata map[string]interface{}) {
	c.Set(ContextKeyAuditMetadata, metadata)
}

// SkipAudit marks the current request to skip audit logging
func SkipAudit(c *gin.Context) {
	c.Set(contextKeyAuditSkip, true)
}
