package main

import "github.com/stv0g/pion-perfect-negotation/pkg"

type SignalingMessage struct {
	*pkg.SignalingMessage

	Sender *Connection
}

func (msg *SignalingMessage) CollectMetrics() {
	if msg.Candidate != nil {
		typ := "candidate"
		if *msg.Candidate == "" {
			typ = "end_of_candidates"
		}
		metricMessagesReceived.WithLabelValues(typ).Inc()
	}
	if msg.Description != nil {
		metricMessagesReceived.WithLabelValues(msg.Description.Kind).Inc()
	}
}
