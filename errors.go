/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
)

// User-facing failures returned over the acknowledgment channel. The exact
// strings are part of the client protocol; don't reword them casually.
var (
	ErrTooManyGames    = errors.New("Too many games running. Please try again later.")
	ErrInvalidQuiz     = errors.New("Invalid quiz JSON format.")
	ErrGameNotJoinable = errors.New("Game not found or already started")
	ErrGameFull        = errors.New("Game is full.")
	ErrRateLimited     = errors.New("Too many requests. Slow down.")
)
