package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cxoneflow/cxoneflow-go/internal/config"
	"github.com/cxoneflow/cxoneflow-go/internal/kickoff"
	"github.com/cxoneflow/cxoneflow-go/internal/model"
	"github.com/cxoneflow/cxoneflow-go/internal/orchestrator"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestKickoffHandlerRejectsUnconfiguredRouteWith403(t *testing.T) {
	a := &App{Log: logrus.NewEntry(logrus.StandardLogger())}
	route := &Route{SCM: model.ConfigKeyGH, Config: config.RouteConfig{ServiceName: "svc"}}

	req := httptest.NewRequest(http.MethodPost, "/gh/kickoff", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	w := httptest.NewRecorder()

	a.kickoffHandler(route)(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestKickoffHandlerRejectsMissingBearerToken(t *testing.T) {
	a := &App{Log: logrus.NewEntry(logrus.StandardLogger())}
	route := &Route{SCM: model.ConfigKeyGH, Config: config.RouteConfig{ServiceName: "svc"}}

	req := httptest.NewRequest(http.MethodPost, "/gh/kickoff", nil)
	w := httptest.NewRecorder()

	a.kickoffHandler(route)(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookStatusCodeDiagnosticIsAlways200(t *testing.T) {
	assert.Equal(t, http.StatusOK, webhookStatusCode(model.ConfigKeyGH, orchestrator.OutcomeDiagnostic))
	assert.Equal(t, http.StatusOK, webhookStatusCode(model.ConfigKeyGL, orchestrator.OutcomeDiagnostic))
}

func TestWebhookStatusCodeGitlabUses201(t *testing.T) {
	assert.Equal(t, http.StatusCreated, webhookStatusCode(model.ConfigKeyGL, orchestrator.OutcomeIgnored))
}

func TestWebhookStatusCodeOthersUse204(t *testing.T) {
	for _, scm := range []model.ConfigKey{model.ConfigKeyBBDC, model.ConfigKeyADOE, model.ConfigKeyGH} {
		assert.Equal(t, http.StatusNoContent, webhookStatusCode(scm, orchestrator.Outcome4EResult))
	}
}

func TestKickoffStatusCode(t *testing.T) {
	cases := []struct {
		outcome kickoff.Outcome
		want    int
	}{
		{kickoff.OutcomeStarted, http.StatusCreated},
		{kickoff.OutcomeScanExists, 299},
		{kickoff.OutcomeTooManyScans, http.StatusTooManyRequests},
		{kickoff.Outcome("unexpected"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, kickoffStatusCode(c.outcome))
	}
}
