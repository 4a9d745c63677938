// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/taibuivan/yomira-sync/internal/platform/apperr"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	requestutil "github.com/taibuivan/yomira-sync/internal/platform/request"
	"github.com/taibuivan/yomira-sync/internal/platform/respond"
	"github.com/taibuivan/yomira-sync/internal/platform/sec"
	"github.com/taibuivan/yomira-sync/internal/platform/validate"
)

// EventTokenHandler mints short-lived capability tokens that let realtime
// subscribers attach to the event channels without sharing the admin secret.
type EventTokenHandler struct {
	capabilities *sec.CapabilityService
}

// NewEventTokenHandler constructs the handler over the capability service.
func NewEventTokenHandler(capabilities *sec.CapabilityService) *EventTokenHandler {
	return &EventTokenHandler{capabilities: capabilities}
}

type mintTokenRequest struct {
	// Channel is "manga:list", "manga:<external_id>", or "*".
	Channel string `json:"channel"`
}

/*
Mint issues a capability token scoped to one event channel.

POST /api/v1/events/token

Response:
  - 200: {token, channel, expires_in_seconds}
  - 400: Missing or malformed channel
*/
func (handler *EventTokenHandler) Mint(writer http.ResponseWriter, request *http.Request) {
	var input mintTokenRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	channel := strings.TrimSpace(input.Channel)
	if channel == "" {
		respond.Error(writer, request, validate.RequiredError("channel", "This field is required"))
		return
	}
	if channel != sec.ChannelWildcard && !strings.HasPrefix(channel, constants.EventChannelPrefix) {
		respond.Error(writer, request, apperr.ValidationError("Unknown event channel", apperr.FieldError{
			Field:   "channel",
			Message: "Must be " + constants.EventChannelList + ", " + constants.EventChannelPrefix + "<external_id>, or *",
		}))
		return
	}

	token, err := handler.capabilities.Mint(channel, constants.CapabilityTokenTTL)
	if err != nil {
		respond.Error(writer, request, apperr.Internal(err))
		return
	}

	respond.OK(writer, map[string]any{
		"token":              token,
		"channel":            channel,
		"expires_in_seconds": int(constants.CapabilityTokenTTL / time.Second),
	})
}
