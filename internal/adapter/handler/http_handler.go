package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/core/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	loans   *service.LoanService
	catalog *service.CatalogService
}

type BookHTTPRequest struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	PublicationYear int    `json:"publication_year"`
	TotalCopies     int    `json:"total_copies"`
}

type BookUpdateHTTPRequest struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	ISBN            *string `json:"isbn"`
	PublicationYear *int    `json:"publication_year"`
	TotalCopies     *int    `json:"total_copies"`
}

type UserHTTPRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type BorrowHTTPRequest struct {
	UserID string `json:"user_id"`
}

type BookHTTPResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	PublicationYear int       `json:"publication_year"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type UserHTTPResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type LoanHTTPResponse struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	UserID     string     `json:"user_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date"`
	Status     string     `json:"status"`
}

type AvailabilityHTTPResponse struct {
	BookID          string `json:"book_id"`
	AvailableCopies int    `json:"available_copies"`
}

type ErrorHTTPResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(loans *service.LoanService, catalog *service.CatalogService) *HTTPHandler {
	return &HTTPHandler{loans: loans, catalog: catalog}
}

// Routes mounts every endpoint on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", h.HealthCheck)

	r.Route("/books", func(r chi.Router) {
		r.Get("/", h.ListBooks)
		r.Post("/", h.CreateBook)
		r.Route("/{bookID}", func(r chi.Router) {
			r.Get("/", h.GetBook)
			r.Put("/", h.UpdateBook)
			r.Delete("/", h.DeleteBook)
			r.Get("/availability", h.Availability)
			r.Post("/borrow", h.Borrow)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)
		r.Get("/{userID}", h.GetUser)
	})

	r.Route("/loans", func(r chi.Router) {
		r.Get("/", h.ListLoans)
		r.Get("/{loanID}", h.GetLoan)
		r.Post("/{loanID}/return", h.Return)
	})
}

func (h *HTTPHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req BorrowHTTPRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "missing required fields"})
		return
	}

	loan, err := h.loans.BorrowOnce(r.Context(), r.Header.Get(idempotencyHeader), chi.URLParam(r, "bookID"), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Return(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *HTTPHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.GetLoan(r.Context(), chi.URLParam(r, "loanID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (h *HTTPHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := paging(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	query := service.LoanQuery{
		BookID:      q.Get("book_id"),
		UserID:      q.Get("user_id"),
		OpenOnly:    q.Get("open") == "true",
		OverdueOnly: q.Get("overdue") == "true",
	}

	loans, err := h.loans.ListLoans(r.Context(), query, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]LoanHTTPResponse, 0, len(loans))
	for _, l := range loans {
		resp = append(resp, toLoanResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req BookHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	book, err := h.catalog.CreateBook(r.Context(), service.BookInput{
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		PublicationYear: req.PublicationYear,
		TotalCopies:     req.TotalCopies,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookResponse(book))
}

func (h *HTTPHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.catalog.GetBook(r.Context(), chi.URLParam(r, "bookID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

func (h *HTTPHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := paging(w, r)
	if !ok {
		return
	}

	books, err := h.catalog.ListBooks(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]BookHTTPResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var req BookUpdateHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	book, err := h.catalog.UpdateBook(r.Context(), chi.URLParam(r, "bookID"), service.BookUpdate{
		Title:           req.Title,
		Author:          req.Author,
		ISBN:            req.ISBN,
		PublicationYear: req.PublicationYear,
		TotalCopies:     req.TotalCopies,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookResponse(book))
}

func (h *HTTPHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteBook(r.Context(), chi.URLParam(r, "bookID")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Availability(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")
	available, err := h.catalog.Availability(r.Context(), bookID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityHTTPResponse{BookID: bookID, AvailableCopies: available})
}

func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.catalog.CreateUser(r.Context(), req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.catalog.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := paging(w, r)
	if !ok {
		return
	}

	users, err := h.catalog.ListUsers(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]UserHTTPResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HTTPStatus maps a core error onto a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBookMissing):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, ErrorHTTPResponse{Error: message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func paging(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "offset must be an integer"})
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorHTTPResponse{Error: "limit must be an integer"})
			return 0, 0, false
		}
	}
	return offset, limit, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func toBookResponse(b domain.Book) BookHTTPResponse {
	return BookHTTPResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		PublicationYear: b.PublicationYear,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toUserResponse(u domain.User) UserHTTPResponse {
	return UserHTTPResponse{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func toLoanResponse(l domain.Loan) LoanHTTPResponse {
	return LoanHTTPResponse{
		ID:         l.ID,
		BookID:     l.BookID,
		UserID:     l.UserID,
		BorrowDate: l.BorrowDate,
		DueDate:    l.DueDate,
		ReturnDate: l.ReturnDate,
		Status:     string(l.Status),
	}
}
