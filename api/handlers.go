package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/auth"
	"github.com/tcriess/hobbyhub-chat/chat"
	"github.com/tcriess/hobbyhub-chat/types"
)

const maxBodySize = 8 << 20

// Server exposes the chat core via REST. Identities in request bodies are trusted, authentication of REST
// callers happens in front of this service.
type Server struct {
	svc      *chat.Service
	accounts *auth.Accounts
	logger   hclog.Logger
}

// NewRouter registers all routes. websocket may be nil.
func NewRouter(svc *chat.Service, accounts *auth.Accounts, websocket http.Handler, logger hclog.Logger) *mux.Router {
	s := &Server{svc: svc, accounts: accounts, logger: logger}
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/topics", s.listTopics).Methods(http.MethodGet)
	router.HandleFunc("/topics/{topic}/rooms", s.listRooms).Methods(http.MethodGet)
	router.HandleFunc("/topics/{topic}/rooms", s.createRoom).Methods(http.MethodPost)
	router.HandleFunc("/rooms/{room}/members", s.listMembers).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room}/messages", s.listMessages).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{room}/messages", s.submitMessage).Methods(http.MethodPost)
	router.HandleFunc("/reports", s.submitReport).Methods(http.MethodPost)
	if accounts != nil {
		router.HandleFunc("/users", s.register).Methods(http.MethodPost)
		router.HandleFunc("/login", s.login).Methods(http.MethodPost)
	}
	if websocket != nil {
		router.Handle("/chat/{room:[a-z0-9][a-z0-9_-]*}", websocket).Methods(http.MethodGet)
	}
	return router
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("could not write response", "error", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrModerationRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrStorageFull):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := apperrors.UserMessage(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = http.StatusText(status)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("invalid request body")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.ListTopics())
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.svc.ListRooms(mux.Vars(r)["topic"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rooms)
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatorId   string `json:"creatorId"`
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	req := createRoomRequest{}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	room, err := s.svc.CreateRoom(mux.Vars(r)["topic"], req.Name, req.Description, req.CreatorId)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, room)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.ListMembers(mux.Vars(r)["room"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Messages(mux.Vars(r)["room"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

type submitMessageRequest struct {
	Id         string            `json:"id"`
	SenderId   string            `json:"senderId"`
	SenderName string            `json:"senderName"`
	Text       string            `json:"text"`
	Attachment *types.Attachment `json:"attachment"`
}

func (s *Server) submitMessage(w http.ResponseWriter, r *http.Request) {
	req := submitMessageRequest{}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.SubmitMessage(r.Context(), chat.SubmitRequest{
		RoomId:     mux.Vars(r)["room"],
		SenderId:   req.SenderId,
		SenderName: req.SenderName,
		Text:       req.Text,
		Attachment: req.Attachment,
		MessageId:  req.Id,
	})
	switch {
	case err != nil && res != nil:
		s.writeJSON(w, statusOf(err), res)
	case err != nil:
		s.writeError(w, err)
	case !res.Accepted:
		s.writeJSON(w, statusOf(res.Err()), res)
	default:
		s.writeJSON(w, http.StatusCreated, res)
	}
}

func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	req := types.Report{}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.svc.SubmitReport(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, report)
}

type registerRequest struct {
	types.User
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	req := registerRequest{}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	user, err := s.accounts.Register(req.User, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	user, err := s.accounts.Login(req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}
