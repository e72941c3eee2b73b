// Package models defines the data structures shared across HealBee modules.
//
// It includes the API envelope, request payloads, user profiles and delivery receipts.
package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Languages accepted on the API surface. An empty language means auto-detect.
const (
	LanguageEnglish = "en"
	LanguageHindi   = "hi"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length of a user message
	MaxMessageLength = 4096
	// MaxChronicConditions caps the chronic conditions carried in a profile
	MaxChronicConditions = 15
	// MaxAllergies caps the allergies carried in a profile
	MaxAllergies = 10
	// MaxProfileNotesLength caps free-text profile notes, in characters
	MaxProfileNotesLength = 300
	// MaxAge is the largest accepted age in years
	MaxAge = 130
	// MaxLocationLength caps the free-text location used for the facility search, in characters
	MaxLocationLength = 120
)

// Error variables for better error handling and testability
var (
	ErrEmptyText         = errors.New("text is required")
	ErrTextTooLong       = errors.New("text exceeds maximum length")
	ErrUnsupportedLang   = errors.New("unsupported language")
	ErrInvalidAge        = errors.New("age out of range")
	ErrTooManyConditions = errors.New("too many chronic conditions")
	ErrTooManyAllergies  = errors.New("too many allergies")
	ErrNotesTooLong      = errors.New("notes exceed maximum length")
	ErrInvalidChannel    = errors.New("invalid delivery channel")
	ErrEmptyRecipient    = errors.New("recipient cannot be empty")
	ErrLocationTooLong   = errors.New("location exceeds maximum length")
)

// IsSupportedLanguage reports whether lang can be requested explicitly.
func IsSupportedLanguage(lang string) bool {
	switch lang {
	case "", LanguageEnglish, LanguageHindi:
		return true
	default:
		return false
	}
}

// Profile is what the user told us about themselves. It only ever shapes
// LLM prompts; the symptom dialogue never branches on it.
type Profile struct {
	Name              string   `json:"name,omitempty"`
	Age               int      `json:"age,omitempty"`
	Gender            string   `json:"gender,omitempty"`
	ChronicConditions []string `json:"chronic_conditions,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	Pregnant          *bool    `json:"pregnant,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// IsZero reports whether the profile carries no information.
func (p Profile) IsZero() bool {
	return p.Name == "" && p.Age == 0 && p.Gender == "" && len(p.ChronicConditions) == 0 &&
		len(p.Allergies) == 0 && p.Pregnant == nil && p.Notes == ""
}

// Validate checks the profile limits.
func (p *Profile) Validate() error {
	if p.Age < 0 || p.Age > MaxAge {
		return ErrInvalidAge
	}
	if len(p.ChronicConditions) > MaxChronicConditions {
		return ErrTooManyConditions
	}
	if len(p.Allergies) > MaxAllergies {
		return ErrTooManyAllergies
	}
	if utf8.RuneCountInString(p.Notes) > MaxProfileNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// DeliveryChannel selects how a reply is pushed to the user outside the HTTP response.
type DeliveryChannel string

const (
	// DeliveryChannelSMS sends plain SMS.
	DeliveryChannelSMS DeliveryChannel = "sms"
	// DeliveryChannelWhatsApp sends through the WhatsApp sender.
	DeliveryChannelWhatsApp DeliveryChannel = "whatsapp"
)

// IsValid reports whether c is a known channel.
func (c DeliveryChannel) IsValid() bool {
	return c == DeliveryChannelSMS || c == DeliveryChannelWhatsApp
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was accepted by the provider.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records one outbound delivery attempt.
type Receipt struct {
	To      string          `json:"to"`
	Channel DeliveryChannel `json:"channel"`
	Status  MessageStatus   `json:"status"`
	SID     string          `json:"sid,omitempty"`
	Error   string          `json:"error,omitempty"`
	Time    int64           `json:"time"`
}

// StartConversationRequest is the payload for opening a conversation.
type StartConversationRequest struct {
	UserID   string   `json:"user_id,omitempty"`
	Language string   `json:"language,omitempty"`
	Profile  *Profile `json:"profile,omitempty"`
}

// Validate validates a StartConversationRequest.
func (r *StartConversationRequest) Validate() error {
	if !IsSupportedLanguage(r.Language) {
		return ErrUnsupportedLang
	}
	if r.Profile != nil {
		return r.Profile.Validate()
	}
	return nil
}

// StartConversationResponse carries the id of a new conversation.
type StartConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// MessageRequest is one user turn. DeliverTo optionally pushes the reply over SMS or WhatsApp.
// Location, when set, is searched for nearby hospitals if the reply calls for urgent care.
type MessageRequest struct {
	Text      string `json:"text"`
	DeliverTo string `json:"deliver_to,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Validate validates a MessageRequest.
func (r *MessageRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxMessageLength {
		return ErrTextTooLong
	}
	if utf8.RuneCountInString(r.Location) > MaxLocationLength {
		return ErrLocationTooLong
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
