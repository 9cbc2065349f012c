package api

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"expediter/internal/voice"
)

type voiceRequest struct {
	AudioB64 string `json:"audio_b64"`
	Tenant   string `json:"tenant"`
}

// VoiceCommand runs one utterance through the full pipeline. The response
// distinguishes executed commands from low-confidence ones: the latter come
// back 200 with suggestions and executed=false.
func (s *Server) VoiceCommand(c *gin.Context) {
	if s.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice processing is not configured"})
		return
	}
	var req voiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioB64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio_b64 is not valid base64"})
		return
	}
	tenant := req.Tenant
	if tenant == "" {
		tenant = "default"
	}

	out, err := s.processor.Process(c.Request.Context(), voice.Request{
		Audio:          audio,
		Tenant:         tenant,
		ActorID:        c.GetString(ctxActor),
		Role:           c.GetString(ctxRole),
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CancelVoiceSession aborts a session that has not yet reached execution.
func (s *Server) CancelVoiceSession(c *gin.Context) {
	if s.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice processing is not configured"})
		return
	}
	if err := s.processor.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// newDetachedContext carries nothing from the request context so background
// work survives the response being written.
func newDetachedContext(_ *gin.Context) context.Context {
	return context.Background()
}
