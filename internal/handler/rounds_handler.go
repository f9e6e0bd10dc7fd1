package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ethereum/esp-website-sub001/internal/rounds"
)

// RoundsHandler serves the composed form contracts.
type RoundsHandler struct {
	rounds *rounds.Registry
}

func NewRoundsHandler(reg *rounds.Registry) *RoundsHandler {
	return &RoundsHandler{rounds: reg}
}

type roundSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Multipart bool   `json:"multipart"`
}

func (h *RoundsHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.rounds.List()
	out := make([]roundSummary, 0, len(list))
	for _, rd := range list {
		out = append(out, roundSummary{ID: rd.ID, Title: rd.Title, Multipart: rd.Form().Multipart})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": out})
}

func (h *RoundsHandler) Form(w http.ResponseWriter, r *http.Request) {
	rd, err := h.rounds.Get(chi.URLParam(r, "roundID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown round")
		return
	}
	writeJSON(w, http.StatusOK, rd.Form())
}
