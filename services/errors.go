package services

import "errors"

var (
	ErrUnauthenticated      = errors.New("authentication required")
	ErrForbidden            = errors.New("administrator privileges required")
	ErrEmptyImage           = errors.New("image file is empty")
	ErrDiseaseNotFound      = errors.New("disease not found")
	ErrPredictionNotFound   = errors.New("prediction not found")
	ErrSuggestionNotFound   = errors.New("suggestion not found")
	ErrUnknownDisease       = errors.New("disease does not exist")
	ErrInvalidCategory      = errors.New("type must be one of cause, prevention, treatment")
	ErrEmptySuggestion      = errors.New("suggestion text must not be empty")
	ErrDuplicateSuggestion  = errors.New("this suggestion already exists in the disease metadata")
	ErrSuggestionNotPending = errors.New("suggestion has already been reviewed")
)
