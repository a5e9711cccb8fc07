package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/pkg"
)

type apiResponse struct {
	Sessions []pkg.Session `json:"sessions"`
}

func (r *Relay) apiHandle(w http.ResponseWriter, req *http.Request) {
	resp := &apiResponse{
		Sessions: r.Sessions(),
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.Errorf("Failed to encode API response: %s", err)
	}
}
