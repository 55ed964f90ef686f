package controller

import (
	"context"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeService is the coordinator surface the HTTP layer needs.
type JudgeService interface {
	Submit(ctx context.Context, sub model.Submission) (model.Report, error)
	SubmitAsync(ctx context.Context, sub model.Submission) (string, error)
	Status(ctx context.Context, submissionID string) (model.SubmissionStatus, error)
	Cancel(ctx context.Context, submissionID string) error
	Run(ctx context.Context, language, source, input string) (model.ExecutionResult, error)
	Languages(ctx context.Context) []profile.LanguageSpec
}

// JudgeController handles submission, run and status requests.
type JudgeController struct {
	svc   JudgeService
	watch WatchConfig
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc JudgeService, watch WatchConfig) *JudgeController {
	return &JudgeController{svc: svc, watch: watch.withDefaults()}
}

type submitRequest struct {
	SubmissionID string           `json:"submission_id"`
	Language     string           `json:"language"`
	SourceCode   string           `json:"source_code"`
	TestCases    []model.TestCase `json:"test_cases"`
}

func (r submitRequest) submission() model.Submission {
	return model.Submission{
		ID:         r.SubmissionID,
		Language:   r.Language,
		SourceCode: r.SourceCode,
		TestCases:  r.TestCases,
	}
}

type runRequest struct {
	Language   string `json:"language"`
	SourceCode string `json:"source_code"`
	Input      string `json:"input"`
}

// Submit judges a submission and blocks until its report is ready.
func (h *JudgeController) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	report, err := h.svc.Submit(c.Request.Context(), req.submission())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// SubmitAsync accepts a submission and returns its id at once.
func (h *JudgeController) SubmitAsync(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	id, err := h.svc.SubmitAsync(c.Request.Context(), req.submission())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{"submission_id": id})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Cancel stops a submission at its next test case boundary.
func (h *JudgeController) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Cancel(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submission_id": id, "cancelled": true})
}

// Run executes a program once without judging it.
func (h *JudgeController) Run(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	res, err := h.svc.Run(c.Request.Context(), req.Language, req.SourceCode, req.Input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Languages lists the configured languages.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, h.svc.Languages(c.Request.Context()))
}
