package controller

import (
	"context"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/problem"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemCatalog is the read side of the problem catalog.
type ProblemCatalog interface {
	List(ctx context.Context) []problem.Summary
	Get(ctx context.Context, id string) (problem.Problem, error)
	Submission(ctx context.Context, problemID, language, source string) (model.Submission, error)
}

// ProblemController serves catalog questions and judges answers against them.
type ProblemController struct {
	catalog ProblemCatalog
	svc     JudgeService
}

// NewProblemController creates a new controller.
func NewProblemController(catalog ProblemCatalog, svc JudgeService) *ProblemController {
	return &ProblemController{catalog: catalog, svc: svc}
}

// problemView hides the expected outputs of catalog test cases.
type problemView struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Prompt      string            `json:"prompt"`
	Difficulty  string            `json:"difficulty"`
	StarterCode map[string]string `json:"starter_code,omitempty"`
	TestCases   int               `json:"test_cases"`
}

type answerRequest struct {
	Language   string `json:"language"`
	SourceCode string `json:"source_code"`
}

// List returns every catalog problem.
func (h *ProblemController) List(c *gin.Context) {
	response.Success(c, h.catalog.List(c.Request.Context()))
}

// Get returns one problem without its expected outputs.
func (h *ProblemController) Get(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problemView{
		ID:          p.ID,
		Title:       p.Title,
		Prompt:      p.Prompt,
		Difficulty:  p.Difficulty,
		StarterCode: p.StarterCode,
		TestCases:   len(p.TestCases),
	})
}

// Submit judges an answer against the problem's test cases.
func (h *ProblemController) Submit(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	sub, err := h.catalog.Submission(c.Request.Context(), c.Param("id"), req.Language, req.SourceCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.svc.Submit(c.Request.Context(), sub)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}
