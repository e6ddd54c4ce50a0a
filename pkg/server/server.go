package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/logging"
	"github.com/user/hostguard/pkg/report"
)

// Server exposes the engine over a small JSON API. Rule operations are
// serialized because the editors and the ledger assume a single caller.
type Server struct {
	eng    *engine.Engine
	ledger *ledger.Ledger
	cfg    *config.Config
	log    *zap.Logger
	mu     sync.Mutex
}

type ruleRequest struct {
	Rule uint16 `json:"rule" binding:"required"`
}

// New returns the HTTP handler.
func New(eng *engine.Engine, l *ledger.Ledger, cfg *config.Config, log *zap.Logger) *gin.Engine {
	s := &Server{eng: eng, ledger: l, cfg: cfg, log: logging.OrNop(log)}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/api")
	{
		api.GET("/status", s.status)
		api.GET("/rules", s.listRules)
		api.GET("/rules/:number/plan", s.plan)
		api.GET("/scan", s.scan)
		api.POST("/fix", s.fix)
		api.POST("/rollback", s.rollback)
		api.GET("/history/:number", s.history)
		api.GET("/export", s.export)
		api.POST("/reset", s.reset)
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) status(c *gin.Context) {
	hostname, _ := os.Hostname()
	c.JSON(http.StatusOK, gin.H{
		"status": "online",
		"host":   hostname,
		"rules":  len(s.eng.Rules()),
		"run_id": s.ledger.RunID(),
	})
}

func (s *Server) listRules(c *gin.Context) {
	type ruleInfo struct {
		Number    uint16   `json:"number"`
		Name      string   `json:"name"`
		Standard  string   `json:"standard"`
		Severity  string   `json:"severity,omitempty"`
		Enabled   bool     `json:"enabled"`
		DependsOn []uint16 `json:"depends_on,omitempty"`
	}
	var out []ruleInfo
	for _, r := range s.eng.Rules() {
		spec, _ := s.eng.Spec(r.Number())
		out = append(out, ruleInfo{
			Number:    spec.Number,
			Name:      spec.Name,
			Standard:  s.eng.Standard(spec.Number),
			Severity:  spec.Severity,
			Enabled:   s.cfg.Enabled(spec.Number, spec.EnabledByDefault()),
			DependsOn: spec.DependsOn,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}

func parseNumber(c *gin.Context) (uint16, bool) {
	n, err := strconv.ParseUint(c.Param("number"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule number"})
		return 0, false
	}
	return uint16(n), true
}

func (s *Server) plan(c *gin.Context) {
	n, ok := parseNumber(c)
	if !ok {
		return
	}
	plan, err := s.eng.Plan(n)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.String(http.StatusOK, plan)
}

// severities lists what each scan level includes.
var severities = map[string][]string{
	"basic":    {"critical", "high"},
	"moderate": {"critical", "high", "medium"},
}

func filterLevel(findings []engine.Finding, level string) []engine.Finding {
	allowed, ok := severities[level]
	if !ok {
		return findings
	}
	var out []engine.Finding
	for _, f := range findings {
		for _, sev := range allowed {
			if strings.EqualFold(f.Severity, sev) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func (s *Server) audit(level string) []engine.Finding {
	s.mu.Lock()
	res := s.eng.Audit()
	s.mu.Unlock()
	return filterLevel(res.List(), level)
}

func (s *Server) scan(c *gin.Context) {
	level := c.DefaultQuery("level", "strict")
	c.JSON(http.StatusOK, gin.H{"level": level, "results": s.audit(level)})
}

func (s *Server) fix(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	s.mu.Lock()
	out, err := s.eng.Fix(req.Rule)
	s.mu.Unlock()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) rollback(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	s.mu.Lock()
	out, err := s.eng.Undo(req.Rule)
	s.mu.Unlock()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) history(c *gin.Context) {
	n, ok := parseNumber(c)
	if !ok {
		return
	}
	events, err := s.ledger.History(n)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": n, "events": events})
}

func (s *Server) export(c *gin.Context) {
	level := c.DefaultQuery("level", "strict")
	findings := s.audit(level)

	hostname, _ := os.Hostname()
	dir := s.cfg.ReportDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.fail(c, err)
		return
	}
	name := "audit_report_" + time.Now().Format("20060102_150405") + ".pdf"
	path := filepath.Join(dir, name)
	if err := report.GeneratePDF(findings, s.ledger.History, hostname, path); err != nil {
		s.log.Error("report generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate PDF"})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Header("Content-Type", "application/pdf")
	c.File(path)
}

func (s *Server) reset(c *gin.Context) {
	s.mu.Lock()
	outs := s.eng.UndoAll()
	s.mu.Unlock()
	failed := 0
	for _, o := range outs {
		if !o.OK {
			failed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset_complete", "failed": failed, "outcomes": outs})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch faults.KindOf(err) {
	case faults.NotFound:
		code = http.StatusNotFound
	case faults.InvalidSpec:
		code = http.StatusBadRequest
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
