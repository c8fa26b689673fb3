package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/broadcast"
	"clinical-workflow-server/internal/config"
	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/services"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.ChangeEvent
}

func (p *recordingPublisher) Publish(ev broadcast.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Action)
	}
	return out
}

type envelope struct {
	Status  int               `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors"`
}

type recordBody struct {
	ID            string                  `json:"id"`
	Symptoms      string                  `json:"symptoms"`
	Diagnosis     string                  `json:"diagnosis"`
	Treatment     string                  `json:"treatment"`
	CurrentStatus *models.Status          `json:"current_status"`
	History       []services.StatusChange `json:"status_history"`
	Patient       *models.Patient         `json:"patient"`
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	events  *recordingPublisher
	doctor  *models.User
	staff   *models.User
	patient *models.Patient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := models.InitDB(models.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)

	staff := &models.User{Name: "Sam Staff", Email: "staff@clinic.test", Role: models.RoleStaff}
	doctor := &models.User{Name: "Dana Doctor", Email: "doctor@clinic.test", Role: models.RoleDoctor}
	patient := &models.Patient{Name: "Ana Souza", Email: "ana@example.com"}
	require.NoError(t, db.Create(staff).Error)
	require.NoError(t, db.Create(doctor).Error)
	require.NoError(t, db.Create(patient).Error)

	cfg := &config.Config{JWTSecret: "test-secret", JWTExpirationMinutes: 60}
	events := &recordingPublisher{}
	records := services.NewMedicalRecordService(db, events, zerolog.Nop())

	router := gin.New()
	SetupRoutes(router, db, cfg, records, broadcast.NewHub("*", zerolog.Nop()))

	return &testServer{router: router, db: db, events: events, doctor: doctor, staff: staff, patient: patient}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) switchTo(t *testing.T, user *models.User) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/users/switch", "", map[string]string{"user_id": user.ID})
	require.Equal(t, http.StatusOK, code, env.Error)

	var resp struct {
		Token string       `json:"token"`
		User  *models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Equal(t, user.ID, resp.User.ID)
	return resp.Token
}

func decodeRecord(t *testing.T, env envelope) recordBody {
	t.Helper()
	var rec recordBody
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP"}`, w.Body.String())
}

func TestUsersAndCurrentUser(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/users", "", nil)
	require.Equal(t, http.StatusOK, code)
	var users []models.User
	require.NoError(t, json.Unmarshal(env.Data, &users))
	assert.Len(t, users, 2)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/switch", "", map[string]string{"user_id": "nobody"})
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/users/switch", "", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "user_id")

	token := s.switchTo(t, s.doctor)
	code, env = s.do(t, http.MethodGet, "/api/v1/users/current", token, nil)
	require.Equal(t, http.StatusOK, code)
	var me models.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, s.doctor.ID, me.ID)
	assert.Equal(t, models.RoleDoctor, me.Role)

	code, _ = s.do(t, http.MethodGet, "/api/v1/users/current", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestConsultationWorkflow(t *testing.T) {
	s := newTestServer(t)
	staffToken := s.switchTo(t, s.staff)
	doctorToken := s.switchTo(t, s.doctor)

	code, env := s.do(t, http.MethodPost, "/api/v1/medical-records", staffToken, map[string]interface{}{
		"patient_id": s.patient.ID,
		"symptoms":   "fever and cough",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	created := decodeRecord(t, env)
	require.NotNil(t, created.CurrentStatus)
	assert.Equal(t, models.StatusPending, *created.CurrentStatus)
	base := "/api/v1/medical-records/" + created.ID

	code, env = s.do(t, http.MethodPost, base+"/start-consultation", staffToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotEmpty(t, env.Error)

	code, env = s.do(t, http.MethodPost, base+"/start-consultation", doctorToken, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, models.StatusAttending, *decodeRecord(t, env).CurrentStatus)

	code, _ = s.do(t, http.MethodPost, base+"/start-consultation", doctorToken, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPut, base+"/consultation", doctorToken, map[string]string{
		"diagnosis": "influenza", "treatment": "rest", "status": "Pending",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env = s.do(t, http.MethodPut, base+"/consultation", doctorToken, map[string]string{
		"treatment": "rest", "status": string(models.StatusFinalized),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "diagnosis")

	code, env = s.do(t, http.MethodPut, base+"/consultation", doctorToken, map[string]string{
		"diagnosis": "influenza", "treatment": "rest", "status": string(models.StatusFinalized),
	})
	require.Equal(t, http.StatusOK, code, env.Error)
	done := decodeRecord(t, env)
	assert.Equal(t, models.StatusFinalized, *done.CurrentStatus)
	assert.Equal(t, "influenza", done.Diagnosis)

	code, env = s.do(t, http.MethodGet, base, staffToken, nil)
	require.Equal(t, http.StatusOK, code)
	full := decodeRecord(t, env)
	require.Len(t, full.History, 3)
	assert.Equal(t, models.StatusFinalized, full.History[0].Status)
	require.NotNil(t, full.Patient)
	assert.Equal(t, "Ana Souza", full.Patient.Name)

	code, env = s.do(t, http.MethodGet, base+"/statuses", staffToken, nil)
	require.Equal(t, http.StatusOK, code)
	var changes []services.StatusChange
	require.NoError(t, json.Unmarshal(env.Data, &changes))
	require.Len(t, changes, 3)
	assert.Equal(t, []models.Status{models.StatusFinalized, models.StatusAttending, models.StatusPending},
		[]models.Status{changes[0].Status, changes[1].Status, changes[2].Status})

	assert.Equal(t, []string{
		broadcast.ActionCreated,
		broadcast.ActionStatusChanged,
		broadcast.ActionStatusChanged,
	}, s.events.actions())
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestServer(t)
	staffToken := s.switchTo(t, s.staff)
	doctorToken := s.switchTo(t, s.doctor)

	code, env := s.do(t, http.MethodPost, "/api/v1/medical-records", staffToken, map[string]interface{}{
		"patient_id": s.patient.ID,
		"symptoms":   "headache",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	base := "/api/v1/medical-records/" + decodeRecord(t, env).ID

	code, _ = s.do(t, http.MethodPut, base, staffToken, map[string]string{"symptoms": "migraine", "diagnosis": "x"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodPut, base, staffToken, map[string]string{"symptoms": "migraine"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "migraine", decodeRecord(t, env).Symptoms)

	code, env = s.do(t, http.MethodPut, base, doctorToken, map[string]string{"diagnosis": "tension headache"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, "tension headache", decodeRecord(t, env).Diagnosis)

	code, _ = s.do(t, http.MethodDelete, base, staffToken, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, base, staffToken, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodDelete, base, staffToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateRecord_Validation(t *testing.T) {
	s := newTestServer(t)
	token := s.switchTo(t, s.staff)

	code, env := s.do(t, http.MethodPost, "/api/v1/medical-records", token, map[string]interface{}{
		"patient_id": s.patient.ID,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "The symptoms field is required.", env.Errors["symptoms"])

	code, env = s.do(t, http.MethodPost, "/api/v1/medical-records", token, map[string]interface{}{
		"patient_id": "missing",
		"symptoms":   "fever",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "patient_id")

	assert.Empty(t, s.events.actions())
}

func TestListAndStatistics(t *testing.T) {
	s := newTestServer(t)
	staffToken := s.switchTo(t, s.staff)
	doctorToken := s.switchTo(t, s.doctor)

	var ids []string
	for _, symptoms := range []string{"a", "b", "c"} {
		code, env := s.do(t, http.MethodPost, "/api/v1/medical-records", staffToken, map[string]interface{}{
			"patient_id": s.patient.ID,
			"symptoms":   symptoms,
		})
		require.Equal(t, http.StatusCreated, code, env.Error)
		ids = append(ids, decodeRecord(t, env).ID)
	}
	code, _ := s.do(t, http.MethodPost, "/api/v1/medical-records/"+ids[0]+"/start-consultation", doctorToken, nil)
	require.Equal(t, http.StatusOK, code)

	code, env := s.do(t, http.MethodGet, "/api/v1/medical-records?status=Attending", staffToken, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var page struct {
		Items []recordBody `json:"data"`
		Total int64        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ids[0], page.Items[0].ID)

	code, _ = s.do(t, http.MethodGet, "/api/v1/medical-records?sort_by=nonsense", staffToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/medical-records/stats", staffToken, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var stats services.Statistics
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.EqualValues(t, 3, stats.TotalRecords)
	assert.EqualValues(t, 1, stats.TotalPatients)
	assert.EqualValues(t, 2, stats.StatusCounts[models.StatusPending])
	assert.EqualValues(t, 1, stats.StatusCounts[models.StatusAttending])
	assert.EqualValues(t, 0, stats.StatusCounts[models.StatusFinalized])
}

func TestPatients(t *testing.T) {
	s := newTestServer(t)
	token := s.switchTo(t, s.staff)

	code, env := s.do(t, http.MethodPost, "/api/v1/patients", token, map[string]string{
		"name": "Bruno Lima", "email": "Bruno@Example.com", "birth_date": "1990-04-02",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var created models.Patient
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "bruno@example.com", created.Email)

	code, env = s.do(t, http.MethodPost, "/api/v1/patients", token, map[string]string{"email": "bad"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, env.Errors, "name")
	assert.Contains(t, env.Errors, "email")

	code, env = s.do(t, http.MethodGet, "/api/v1/patients?search=bru", token, nil)
	require.Equal(t, http.StatusOK, code)
	var found []models.Patient
	require.NoError(t, json.Unmarshal(env.Data, &found))
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	code, _ = s.do(t, http.MethodGet, "/api/v1/patients/"+created.ID, token, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/api/v1/patients/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
