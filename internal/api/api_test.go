package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aeropark-backend/config"
	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/identity"
	"aeropark-backend/internal/ledger"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/mw"
	"aeropark-backend/internal/notification"
	"aeropark-backend/internal/occupancy"
	"aeropark-backend/internal/payment"
	"aeropark-backend/internal/registry"
	"aeropark-backend/internal/scanner"
	"aeropark-backend/internal/store"
	"aeropark-backend/internal/store/storetest"
)

const sensorKey = "test-sensor-key"

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router   *gin.Engine
	store    store.Store
	clock    *clock.MockClock
	verifier *identity.JWTVerifier
	hub      *notification.Hub
	scanner  *scanner.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMockClock(testNow)
	s := store.NewGormStore(storetest.NewSQLite(t))

	reg := registry.New(s, clk, logger)
	_, err := reg.SeedDefaults(context.Background(), registry.DefaultSpaces)
	require.NoError(t, err)
	require.NoError(t, s.SetRole(context.Background(), "admin-1", model.RoleAdmin))

	hub := notification.NewHub(clk, logger)
	hub.SetStateProvider(func(ctx context.Context) (any, error) { return reg.State(ctx) })
	cache := mw.NewResponseCache(time.Minute)
	hub.Observe(cache.Observe)

	l := ledger.New(s, reg, payment.NewStubGateway(logger), clk, ledger.Config{HourlyRate: 1000, MaxDurationHours: 168}, logger)
	scan := scanner.NewService(l, reg, hub, clk, time.Hour, logger)
	verifier := identity.NewJWTVerifier("secret", "aeropark", clk)

	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000},
		Sensor: config.SensorConfig{APIKey: sensorKey},
		CORS:   config.CORSConfig{AllowOrigins: []string{"*"}, MaxAgeHours: 12},
	}
	h := NewHandler(Deps{
		Store:     s,
		Registry:  reg,
		Ledger:    l,
		Processor: occupancy.NewProcessor(reg, l, s, hub, clk, logger),
		Scanner:   scan,
		Hub:       hub,
		Clock:     clk,
		WebPush:   &webpush.Options{VAPIDPublicKey: "pub"},
		Parking:   config.ParkingConfig{HourlyRate: 1000, MaxDurationHours: 168},
		Logger:    logger,
	})
	r := NewRouter(cfg, h, mw.NewAuth(verifier, s, logger), cache, logger)

	return &fixture{router: r, store: s, clock: clk, verifier: verifier, hub: hub, scanner: scan}
}

func (f *fixture) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := f.verifier.Issue(identity.Identity{Subject: subject, Name: "Test " + subject, Email: subject + "@example.com", Verified: true}, 24*time.Hour)
	require.NoError(t, err)
	return tok
}

type call struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (f *fixture) do(t *testing.T, c call) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (f *fixture) reserve(t *testing.T, tok, spaceID string, hours int) (int, map[string]any) {
	return f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reserve", token: tok, body: map[string]any{
		"place_id": spaceID, "duree_heures": hours, "methode_paiement": "mpesa",
	}})
}

func placeStatus(t *testing.T, state map[string]any, id string) string {
	t.Helper()
	for _, p := range state["places"].([]any) {
		place := p.(map[string]any)
		if place["id"] == id {
			return place["statut"].(string)
		}
	}
	t.Fatalf("place %s not in state", id)
	return ""
}

func TestReserveAndRelease(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.token(t, "alice"), f.token(t, "bob")

	code, body := f.reserve(t, alice, "A1", 3)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, true, body["succes"])
	assert.Equal(t, "A1", body["place_numero"])
	assert.EqualValues(t, 3000, body["montant"])
	assert.EqualValues(t, 3*3600, body["temps_restant_secondes"])
	assert.True(t, strings.HasPrefix(body["reference_paiement"].(string), "AP-"))

	code, state := f.do(t, call{method: http.MethodGet, path: "/api/v1/parking/status", token: bob})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "reserved", placeStatus(t, state, "a1"))
	assert.EqualValues(t, 4, state["places_disponibles"])

	code, _ = f.reserve(t, bob, "a1", 1)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/release/a1", token: bob})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/release/a1", token: alice})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/release/a1", token: alice})
	assert.Equal(t, http.StatusConflict, code)

	_, state = f.do(t, call{method: http.MethodGet, path: "/api/v1/parking/status", token: bob})
	assert.Equal(t, "available", placeStatus(t, state, "a1"))

	res, err := f.store.ListReservationsByHolder(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, model.ReservationCompleted, res[0].Status)
}

func TestReserveRejects(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "alice")

	cases := map[string]struct {
		body map[string]any
		want int
	}{
		"missing method": {map[string]any{"place_id": "a1", "duree_heures": 1}, http.StatusBadRequest},
		"zero duration":  {map[string]any{"place_id": "a1", "duree_heures": 0, "methode_paiement": "mpesa"}, http.StatusBadRequest},
		"too long":       {map[string]any{"place_id": "a1", "duree_heures": 169, "methode_paiement": "mpesa"}, http.StatusBadRequest},
		"unknown method": {map[string]any{"place_id": "a1", "duree_heures": 1, "methode_paiement": "cash"}, http.StatusBadRequest},
		"unknown space":  {map[string]any{"place_id": "z9", "duree_heures": 1, "methode_paiement": "mpesa"}, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			code, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reserve", token: tok, body: tc.body})
			assert.Equal(t, tc.want, code)
			assert.NotEmpty(t, body["error"])
		})
	}

	code, _ := f.do(t, call{method: http.MethodGet, path: "/api/v1/parking/status"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCancelCheckAndHistory(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.token(t, "alice"), f.token(t, "bob")

	_, first := f.reserve(t, alice, "a1", 1)
	_, second := f.reserve(t, alice, "a2", 2)
	firstID, secondID := first["reservation_id"].(string), second["reservation_id"].(string)

	code, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reservations/" + secondID + "/cancel", token: bob})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reservations/" + secondID + "/cancel", token: alice})
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reservations/" + secondID + "/cancel", token: alice})
	assert.Equal(t, http.StatusConflict, code)

	code, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reservations/" + firstID + "/check", token: alice})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["expiree"])

	f.clock.Add(time.Hour)
	code, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reservations/" + firstID + "/check", token: f.token(t, "admin-1")})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["expiree"])

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/parking/reservations/nope/check", token: alice})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/parking/mes-reservations", token: alice})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])

	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/users/me", token: alice})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice", body["uid"])
	assert.Equal(t, "user", body["role"])
	assert.EqualValues(t, 0, body["reservations_actives"])
}

func TestAdminSpaces(t *testing.T) {
	f := newFixture(t)
	admin, user := f.token(t, "admin-1"), f.token(t, "alice")

	code, _ := f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/parking/add", token: user, body: map[string]any{"numero": "B7"}})
	assert.Equal(t, http.StatusForbidden, code)

	code, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/parking/add", token: admin, body: map[string]any{"numero": "B7"}})
	require.Equal(t, http.StatusCreated, code, body)
	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/parking/add", token: admin, body: map[string]any{"numero": "b7"}})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/admin/parking/add", token: admin, body: map[string]any{"numero": "77"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/parking/all", token: admin})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 6, body["total"])

	f.reserve(t, user, "a1", 1)
	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/admin/reservations", token: admin})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, _ = f.do(t, call{method: http.MethodDelete, path: "/api/v1/admin/parking/a1", token: admin})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = f.do(t, call{method: http.MethodDelete, path: "/api/v1/admin/parking/b7", token: admin})
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, call{method: http.MethodDelete, path: "/api/v1/admin/parking/b7", token: admin})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSensorEndpoints(t *testing.T) {
	f := newFixture(t)
	key := map[string]string{"X-API-Key": sensorKey}

	code, _ := f.do(t, call{method: http.MethodGet, path: "/api/v1/sensor/health"})
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/sensor/update", body: map[string]any{"place_id": "a1", "etat": "occupied"}})
	assert.Equal(t, http.StatusUnauthorized, code)

	f.reserve(t, f.token(t, "alice"), "a1", 1)

	code, body := f.do(t, call{method: http.MethodPost, path: "/api/v1/sensor/update", headers: key,
		body: map[string]any{"place_id": "a1", "etat": "occupied", "force_signal": -60}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "occupied", body["statut"])
	assert.Equal(t, true, body["changement"])
	assert.Equal(t, false, body["anomalie"])

	code, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/sensor/update", headers: key,
		body: map[string]any{"place_id": "a1", "etat": "occupied"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["changement"])

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/sensor/update", headers: key,
		body: map[string]any{"place_id": "a1", "etat": "parked"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, call{method: http.MethodPost, path: "/api/v1/sensor/test/a2?occupe=true", headers: key})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["resultat"].(map[string]any)["anomalie"])

	code, _ = f.do(t, call{method: http.MethodPost, path: "/api/v1/sensor/test/a2?occupe=peut-etre", headers: key})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/sensor/status/a1", headers: key})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "esp8266_a1", body["capteur_id"])
	assert.Equal(t, true, body["en_ligne"])

	code, _ = f.do(t, call{method: http.MethodGet, path: "/api/v1/sensor/status/a3", headers: key})
	assert.Equal(t, http.StatusNotFound, code)

	f.clock.Add(10 * time.Minute)
	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/sensor/status", headers: key})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 0, body["en_ligne"])
}

func TestSubscriptions(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "alice")
	sub := map[string]any{"endpoint": "https://push.example.com/1", "p256dh": "key", "auth": "secret"}

	code, body := f.do(t, call{method: http.MethodGet, path: "/api/v1/vapid_public_key"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pub", body["public_key"])

	code, _ = f.do(t, call{method: http.MethodPut, path: "/api/v1/subscriptions", token: tok, body: map[string]any{"endpoint": "x"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, call{method: http.MethodPut, path: "/api/v1/subscriptions", token: tok, body: sub})
	assert.Equal(t, http.StatusCreated, code)

	code, body = f.do(t, call{method: http.MethodGet, path: "/api/v1/subscriptions", token: tok})
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["total"])

	code, _ = f.do(t, call{method: http.MethodDelete, path: "/api/v1/subscriptions", token: f.token(t, "bob"), body: map[string]any{"endpoint": sub["endpoint"]}})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, call{method: http.MethodDelete, path: "/api/v1/subscriptions", token: tok, body: map[string]any{"endpoint": sub["endpoint"]}})
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, call{method: http.MethodGet, path: "/sante"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["scanner_actif"])
	assert.EqualValues(t, 0, body["connexions_ws"])
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/", "/api/v1"} {
		code, body := f.do(t, call{method: http.MethodGet, path: path})
		require.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, "operationnel", body["statut"])
		pricing, ok := body["tarification"].(map[string]any)
		require.True(t, ok, path)
		assert.EqualValues(t, 1000, pricing["tarif_heure"])
		assert.Equal(t, "FC", pricing["devise"])
		assert.EqualValues(t, 168, pricing["duree_max"])
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestParkingStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/parking"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readFrame(t, conn)
	assert.Equal(t, "connexion_etablie", hello["type"])
	assert.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "demande_etat"}))
	state := readFrame(t, conn)
	assert.Equal(t, "etat_parking", state["type"])
	assert.EqualValues(t, 5, state["donnees"].(map[string]any)["total_places"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "erreur", readFrame(t, conn)["type"])

	code, _ := f.reserve(t, f.token(t, "alice"), "a3", 1)
	require.Equal(t, http.StatusCreated, code)

	event := readFrame(t, conn)
	assert.Equal(t, "reservation", event["type"])
	update := readFrame(t, conn)
	assert.Equal(t, "mise_a_jour_place", update["type"])
	assert.Equal(t, map[string]any{"place_id": "a3", "statut": "reserved", "raison": "reservation"}, update["donnees"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}
