package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/conformal"
	"github.com/jinford/conformal-rag/internal/core/pipeline"
)

// AskRequest は POST /api/v1/ask のリクエストボディ
type AskRequest struct {
	Question  string   `json:"question"`
	ErrorRate *float64 `json:"error_rate,omitempty"`
	// Answer が true の場合、採用されたカラム説明から回答文も生成する
	Answer bool `json:"answer,omitempty"`
}

// ThresholdResponse は GET /api/v1/calibration/threshold のレスポンス
type ThresholdResponse struct {
	ErrorRate       float64 `json:"error_rate"`
	ConfidenceLevel float64 `json:"confidence_level"`
	Threshold       float64 `json:"threshold"`
	CalibrationSize int     `json:"calibration_size"`
}

// ErrorResponse はエラー時のレスポンス。Step はパイプラインのどこで失敗したか
type ErrorResponse struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "conformal-rag",
	})
}

func (s *Server) ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	rate := mo.None[float64]()
	if req.ErrorRate != nil {
		rate = mo.Some(*req.ErrorRate)
	}

	result, err := s.service.Ask(c.Request.Context(), pipeline.AskRequest{
		Question:  req.Question,
		ErrorRate: rate,
		Answer:    req.Answer,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) threshold(c *gin.Context) {
	errorRate := conformal.DefaultErrorRate
	if raw := c.Query("error_rate"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "error_rate must be a number"})
			return
		}
		errorRate = v
	}

	threshold, size, err := s.service.Threshold(c.Request.Context(), errorRate)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ThresholdResponse{
		ErrorRate:       errorRate,
		ConfidenceLevel: (1 - errorRate) * 100,
		Threshold:       threshold,
		CalibrationSize: size,
	})
}

// writeError はエラーの種類に応じてステータスコードを決める
func (s *Server) writeError(c *gin.Context, err error) {
	var stepErr *pipeline.StepError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion), errors.Is(err, conformal.ErrInvalidErrorRate):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, conformal.ErrNoCalibrationData):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, pipeline.ErrAnswerUnavailable):
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: pipeline.ErrAnswerUnavailable.Error(), Step: string(pipeline.StepGenerateAnswer)})
	case errors.As(err, &stepErr):
		s.logger.Error("pipeline step failed",
			"step", stepErr.Step,
			"error", stepErr.Err,
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: stepErr.Err.Error(), Step: string(stepErr.Step)})
	default:
		s.logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
