package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

func TestBind_InterviewTurn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	const eid = "6f1c3b1e-8a77-4d3e-9d59-2f6a1b0e9c11"
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"valid", `{"enrollment_id":"` + eid + `","round_id":"` + eid + `","difficulty":"Hard"}`, ""},
		{"no difficulty", `{"enrollment_id":"` + eid + `","round_id":"` + eid + `"}`, ""},
		{"bad difficulty", `{"enrollment_id":"` + eid + `","round_id":"` + eid + `","difficulty":"Insane"}`, "difficulty"},
		{"missing round", `{"enrollment_id":"` + eid + `"}`, "round_id"},
		{"bad uuid", `{"enrollment_id":"x","round_id":"` + eid + `"}`, "enrollment_id"},
		{"zero index", `{"enrollment_id":"` + eid + `","round_id":"` + eid + `","question_index":0}`, "question_index"},
		{"syntax", `{`, "detail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req model.InterviewTurnRequest
			fields := Bind(c, &req)
			if tt.wantField == "" {
				if fields != nil {
					t.Fatalf("Bind() fields = %v, want none", fields)
				}
				return
			}
			msg, ok := fields[tt.wantField]
			if !ok {
				t.Fatalf("Bind() fields = %v, want key %q", fields, tt.wantField)
			}
			if tt.wantField == "difficulty" && !strings.Contains(msg, "Easy, Medium, Hard or Expert") {
				t.Errorf("difficulty message = %q", msg)
			}
		})
	}
}
