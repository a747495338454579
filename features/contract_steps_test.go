package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/cucumber/godog"

	"classifieds/internal/cards/api"
	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
	"classifieds/internal/cards/infrastructure/memory"
	"classifieds/internal/common/saga"
	"classifieds/internal/common/types"
)

type contractState struct {
	server   *httptest.Server
	response *http.Response
}

// offlineIdentity rejects every token, as an identity service would for
// anonymous callers.
type offlineIdentity struct{}

func (offlineIdentity) ValidateToken(ctx context.Context, token string) (bool, error) {
	return false, nil
}

func (offlineIdentity) UserByToken(ctx context.Context, token string) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}

func (offlineIdentity) UserByID(ctx context.Context, token string, id types.UserID) (domain.User, error) {
	return domain.User{}, domain.ErrUserNotFound
}

func (offlineIdentity) LinkCard(ctx context.Context, token string, card domain.CardID) error {
	return errors.New("offline")
}

func (offlineIdentity) UnlinkCard(ctx context.Context, token string, card domain.CardID) error {
	return errors.New("offline")
}

func InitializeScenario(sc *godog.ScenarioContext) {
	state := &contractState{}

	sc.Step(`^the service is running$`, state.theServiceIsRunning)
	sc.Step(`^I request "([^"]*)"$`, state.iRequest)
	sc.Step(`^the response status should be (\d+)$`, state.theResponseStatusShouldBe)

	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		if state.server != nil {
			state.server.Close()
		}
		if state.response != nil {
			state.response.Body.Close()
		}
		return ctx, nil
	})
}

func (s *contractState) theServiceIsRunning() error {
	store := memory.NewDataStore()
	deps := application.Collaborators{
		Identity: offlineIdentity{},
		Cache:    memory.NewCache(nil),
		Index:    memory.NewIndexPublisher(store.SearchIndex()),
	}
	coordinator := saga.NewCoordinator(saga.NewMemoryLog(nil), saga.NewDispatcher(time.Second))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	api.NewHandler(
		application.NewCardService(store, deps, coordinator, application.Options{}),
		application.NewComplaintService(store, deps, application.Options{}),
	).RegisterRoutes(mux)

	s.server = httptest.NewServer(mux)
	return nil
}

func (s *contractState) iRequest(path string) error {
	if s.server == nil {
		return fmt.Errorf("server not running")
	}
	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		return fmt.Errorf("failed to request %s: %w", path, err)
	}
	s.response = resp
	return nil
}

func (s *contractState) theResponseStatusShouldBe(expected int) error {
	if s.response == nil {
		return fmt.Errorf("no response received")
	}
	if s.response.StatusCode != expected {
		return fmt.Errorf("expected status %d, got %d", expected, s.response.StatusCode)
	}
	return nil
}
