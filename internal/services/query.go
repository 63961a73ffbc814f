package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/querydeck/backend/internal/broker"
	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/logger"
	"github.com/querydeck/backend/pkg/response"
	"gorm.io/gorm"
)

// Translator turns a natural-language question plus a schema snapshot
// into an executable query. Implemented by AIService; tests substitute
// fakes.
type Translator interface {
	Translate(ctx context.Context, req *TranslateRequest) (*TranslateResult, error)
}

type TranslateRequest struct {
	Question     string
	DatabaseType models.DatabaseType
	Schema       []broker.TableSchema
}

type TranslateResult struct {
	Query      string        `json:"query"`
	Parameters []interface{} `json:"parameters"`
	Confidence float64       `json:"confidence"`
	Warnings   []string      `json:"warnings"`
}

// QueryService is the execution gateway: it resolves a connection through
// the broker, forwards the query text untouched, and records every
// attempt in the history ledger.
type QueryService struct {
	db         *gorm.DB
	broker     *broker.Broker
	translator Translator
	timeout    time.Duration
}

func NewQueryService(db *gorm.DB, b *broker.Broker, translator Translator, cfg *config.BrokerConfig) *QueryService {
	timeout := 30 * time.Second
	if cfg != nil && cfg.QueryTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.QueryTimeoutSeconds) * time.Second
	}
	return &QueryService{db: db, broker: b, translator: translator, timeout: timeout}
}

type ExecuteRequest struct {
	Query  string        `json:"query" binding:"required"`
	Params []interface{} `json:"params"`
}

type QueryMeta struct {
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	RowCount        int64    `json:"row_count"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

type QueryResult struct {
	Columns []string                 `json:"columns,omitempty"`
	Data    []map[string]interface{} `json:"data"`
	Meta    QueryMeta                `json:"meta"`
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type AskResult struct {
	QueryResult
	Query    string   `json:"query"`
	Warnings []string `json:"warnings,omitempty"`
}

// readVerbs are statement prefixes routed through Query (result rows);
// everything else goes through Exec (affected-row count). Command
// documents for document stores start with '{' and always produce rows.
var readVerbs = map[string]bool{
	"select":   true,
	"show":     true,
	"describe": true,
	"explain":  true,
	"with":     true,
	"pragma":   true,
}

func isReadQuery(query string) bool {
	trimmed := strings.TrimSpace(query)
	if strings.HasPrefix(trimmed, "{") {
		return true
	}
	fields := strings.Fields(strings.ToLower(trimmed))
	if len(fields) == 0 {
		return false
	}
	return readVerbs[fields[0]]
}

// Execute runs a query against a project's registered database. The query
// text is opaque to the gateway: no rewriting, no sandboxing. Every
// attempt, success or failure, lands in the history ledger; a ledger
// write failure is logged but never masks the execution outcome.
func (s *QueryService) Execute(ctx context.Context, projectID, databaseID, userID uint, req *ExecuteRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, response.NewBadRequest("query must not be empty")
	}
	return s.execute(ctx, projectID, databaseID, userID, req.Query, req.Params, false, nil)
}

func (s *QueryService) execute(ctx context.Context, projectID, databaseID, userID uint, query string, params []interface{}, aiGenerated bool, confidence *float64) (*QueryResult, error) {
	handle, err := s.broker.Get(ctx, projectID, databaseID)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	var (
		rows     *broker.Rows
		rowCount int64
		execErr  error
	)
	if isReadQuery(query) {
		rows, execErr = handle.Query(execCtx, query, params)
		if rows != nil {
			rowCount = int64(len(rows.Data))
		}
	} else {
		rowCount, execErr = handle.Exec(execCtx, query, params)
	}
	elapsed := time.Since(start).Milliseconds()

	s.record(projectID, databaseID, userID, query, params, execErr == nil, rowCount, elapsed, execErr, aiGenerated, confidence)

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			return nil, response.NewRetryable(http.StatusGatewayTimeout, response.KindTimeout,
				"query timed out").WithCause(execErr)
		}
		return nil, response.NewKind(http.StatusUnprocessableEntity, response.KindQueryFailed,
			execErr.Error()).WithCause(execErr)
	}

	result := &QueryResult{
		Data: []map[string]interface{}{},
		Meta: QueryMeta{ExecutionTimeMs: elapsed, RowCount: rowCount, Confidence: confidence},
	}
	if rows != nil {
		result.Columns = rows.Columns
		result.Data = rows.Data
	}
	return result, nil
}

// record appends a history entry. Ledger failures are logged and
// swallowed so they never change the caller-visible outcome.
func (s *QueryService) record(projectID, databaseID, userID uint, query string, params []interface{}, success bool, rowCount, elapsed int64, execErr error, aiGenerated bool, confidence *float64) {
	encoded := ""
	if len(params) > 0 {
		if raw, err := json.Marshal(params); err == nil {
			encoded = string(raw)
		}
	}

	entry := models.QueryHistory{
		ProjectID:       projectID,
		DatabaseID:      databaseID,
		UserID:          userID,
		QueryText:       query,
		Params:          encoded,
		Success:         success,
		RowCount:        rowCount,
		ExecutionTimeMs: elapsed,
		IsAIGenerated:   aiGenerated,
		Confidence:      confidence,
	}
	if execErr != nil {
		entry.ErrorMessage = execErr.Error()
	}

	if err := s.db.Create(&entry).Error; err != nil {
		logger.Errorf("record query history for project %d database %d: %v", projectID, databaseID, err)
	}
}

// Ask translates a natural-language question into a query using a live
// schema snapshot, then executes it through the normal gateway path. The
// resulting history entry is flagged as AI-generated with the model's
// confidence.
func (s *QueryService) Ask(ctx context.Context, projectID, databaseID, userID uint, req *AskRequest) (*AskResult, error) {
	if s.translator == nil {
		return nil, response.NewKind(http.StatusServiceUnavailable, response.KindValidation,
			"natural-language querying is not configured")
	}

	record, err := s.databaseRecord(projectID, databaseID)
	if err != nil {
		return nil, err
	}

	handle, err := s.broker.Get(ctx, projectID, databaseID)
	if err != nil {
		return nil, err
	}

	schemaCtx, cancel := context.WithTimeout(ctx, s.timeout)
	schema, err := handle.Schema(schemaCtx)
	cancel()
	if err != nil {
		return nil, response.NewKind(http.StatusUnprocessableEntity, response.KindQueryFailed,
			"failed to read database schema").WithCause(err)
	}

	translated, err := s.translator.Translate(ctx, &TranslateRequest{
		Question:     req.Question,
		DatabaseType: record.Type,
		Schema:       schema,
	})
	if err != nil {
		return nil, err
	}

	confidence := translated.Confidence
	result, err := s.execute(ctx, projectID, databaseID, userID, translated.Query, translated.Parameters, true, &confidence)
	if err != nil {
		return nil, err
	}

	return &AskResult{
		QueryResult: *result,
		Query:       translated.Query,
		Warnings:    translated.Warnings,
	}, nil
}

func (s *QueryService) databaseRecord(projectID, databaseID uint) (*models.ProjectDatabase, error) {
	var record models.ProjectDatabase
	err := s.db.Where("id = ? AND project_id = ?", databaseID, projectID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewKind(http.StatusNotFound, response.KindDatabaseNotFound, "database not found")
		}
		return nil, err
	}
	return &record, nil
}

type HistoryListRequest struct {
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
	DatabaseID uint   `form:"database_id"`
	Success    *bool  `form:"success"`
	AIOnly     bool   `form:"ai_only"`
	Search     string `form:"search"`
}

type HistoryListResponse struct {
	Total    int64                 `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Items    []models.QueryHistory `json:"items"`
}

// History returns a project's query ledger, newest first.
func (s *QueryService) History(projectID uint, req *HistoryListRequest) (*HistoryListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.QueryHistory{}).Where("project_id = ?", projectID)
	if req.DatabaseID > 0 {
		query = query.Where("database_id = ?", req.DatabaseID)
	}
	if req.Success != nil {
		query = query.Where("success = ?", *req.Success)
	}
	if req.AIOnly {
		query = query.Where("is_ai_generated = ?", true)
	}
	if req.Search != "" {
		query = query.Where("query_text LIKE ?", "%"+req.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.QueryHistory
	offset := (req.Page - 1) * req.PageSize
	err := query.Order("id DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &HistoryListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}
