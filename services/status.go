package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wipac/lta/store"
)

type HealthOutput struct {
	Body map[string]string `doc:"overall service health plus per-component health"`
}

// handler method for the health rollup: a component is OK when its freshest
// heartbeat is within the staleness window, WARN otherwise
func (service *Service) getStatus(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
	}) (*HealthOutput, error) {

	requested("GET", "/status")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	latest, err := service.db.LatestHeartbeats(ctx)
	if err != nil {
		return nil, internalError("GET", "/status", err)
	}
	health := "OK"
	body := map[string]string{}
	stale := time.Now().UTC().Add(-heartbeatWindow).Format("2006-01-02T15:04:05.000000")
	for component, timestamp := range latest {
		if timestamp < stale {
			body[component] = "WARN"
			health = "WARN"
		} else {
			body[component] = "OK"
		}
	}
	if len(latest) == 0 {
		health = "ERROR"
	}
	body["health"] = health
	responded("GET", "200", "/status")
	return &HealthOutput{Body: body}, nil
}

type ComponentStatusOutput struct {
	Body map[string]store.Document `doc:"the latest heartbeat from each instance of the component"`
}

// handler method for the per-component heartbeat listing
func (service *Service) getComponentStatus(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization"`
		Component     string `path:"component"`
	}) (*ComponentStatusOutput, error) {

	requested("GET", "/status/{component}")
	if err := authorize(input.Authorization, "admin", "user", "system"); err != nil {
		return nil, err
	}
	statuses, err := service.db.GetComponentStatus(ctx, input.Component)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, failure("GET", "/status/{component}", http.StatusNotFound, "not found")
		}
		return nil, internalError("GET", "/status/{component}", err)
	}
	responded("GET", "200", "/status/{component}")
	return &ComponentStatusOutput{Body: statuses}, nil
}

// handler method for heartbeat upserts; the body maps each reporting
// instance name to its heartbeat document
func (service *Service) patchComponentStatus(ctx context.Context,
	input *struct {
		Authorization string          `header:"authorization"`
		Component     string          `path:"component"`
		Body          json.RawMessage `contentType:"application/json"`
	}) (*EmptyOutput, error) {

	requested("PATCH", "/status/{component}")
	if err := authorize(input.Authorization, "system"); err != nil {
		return nil, err
	}
	var heartbeats map[string]store.Document
	if err := json.Unmarshal(input.Body, &heartbeats); err != nil {
		return nil, failure("PATCH", "/status/{component}", http.StatusBadRequest, err.Error())
	}
	for name, heartbeat := range heartbeats {
		err := service.db.UpsertStatus(ctx, input.Component, name, heartbeat)
		if err != nil {
			return nil, internalError("PATCH", "/status/{component}", err)
		}
	}
	responded("PATCH", "200", "/status/{component}")
	return &EmptyOutput{}, nil
}
