// internal/controller/send_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/auth"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

// SendProcessor is the part of service.SendService the write endpoints use.
type SendProcessor interface {
	CreateSend(ctx context.Context, in service.CreateSendInput) (*service.CreateSendResult, error)
	ProcessSend(ctx context.Context, sendID string) (*service.ProcessResult, error)
	CheckProcessable(ctx context.Context, sendID string) error
	RunJob(ctx context.Context, sendID string) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
}

type SendController struct {
	SendService SendProcessor
	Scheduler   Sweeper
	Validate    *validator.Validate

	wg sync.WaitGroup
}

func NewSendController(svc SendProcessor, scheduler Sweeper) *SendController {
	return &SendController{
		SendService: svc,
		Scheduler:   scheduler,
		Validate:    validator.New(),
	}
}

type createSendRequest struct {
	NewsletterID string         `json:"newsletterId" validate:"required"`
	Audience     model.Audience `json:"audience"`
	ScheduledFor string         `json:"scheduledFor"`
}

type processSendRequest struct {
	SendID string `json:"sendId" validate:"required,uuid"`
}

// CreateSend handles POST /api/sends.
func (c *SendController) CreateSend(w http.ResponseWriter, r *http.Request) {
	var body createSendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := c.Validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	result, err := c.SendService.CreateSend(r.Context(), service.CreateSendInput{
		NewsletterID: body.NewsletterID,
		Audience:     body.Audience,
		ScheduledFor: body.ScheduledFor,
	})
	if err != nil {
		if errors.Is(err, service.ErrTriggerFailed) && result != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":  err.Error(),
				"sendId": result.SendID,
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	event := log.Info().Str("send_id", result.SendID).Int("total", result.Total)
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		event = event.Str("created_by", claims.Subject)
	}
	event.Msg("send created")

	writeJSON(w, http.StatusCreated, result)
}

// ProcessSend handles POST /internal/sends/process. With ?async=1 the guards
// run inline and the fan-out continues after a 202.
func (c *SendController) ProcessSend(w http.ResponseWriter, r *http.Request) {
	var body processSendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := c.Validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if r.URL.Query().Get("async") == "1" {
		if err := c.SendService.CheckProcessable(r.Context(), body.SendID); err != nil {
			writeServiceError(w, err)
			return
		}
		ctx := context.WithoutCancel(r.Context())
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.SendService.RunJob(ctx, body.SendID); err != nil {
				log.Error().Err(err).Str("send_id", body.SendID).Msg("background processing failed")
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"sendId": body.SendID, "status": "accepted"})
		return
	}

	result, err := c.SendService.ProcessSend(r.Context(), body.SendID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Sweep handles POST /internal/sends/sweep.
func (c *SendController) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := c.Scheduler.Sweep(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Total == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message": "no scheduled sends due",
			"count":   0,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Wait blocks until background processing started by async requests is done.
func (c *SendController) Wait() {
	c.wg.Wait()
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case appErrors.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSendNotProcessable):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSendLocked):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fe.Field() + ": failed '" + fe.Tag() + "' validation"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
