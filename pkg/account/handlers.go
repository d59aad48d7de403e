package account

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/inkwell-labs/forum/pkg/api"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/i18n"
	"github.com/inkwell-labs/forum/pkg/media"
	"github.com/inkwell-labs/forum/pkg/session"
)

// Handler serves the account routes.
type Handler struct {
	svc      *Service
	throttle func(http.Handler) http.Handler
}

// NewHandler creates a Handler. throttle guards the login, registration,
// code and token endpoints and may be nil.
func NewHandler(svc *Service, throttle func(http.Handler) http.Handler) *Handler {
	if throttle == nil {
		throttle = func(h http.Handler) http.Handler { return h }
	}
	return &Handler{svc: svc, throttle: throttle}
}

// RegisterRoutes registers the account routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	guarded := func(f http.HandlerFunc) http.Handler { return h.throttle(f) }
	private := auth.RequireUserFunc

	mux.Handle("POST /account/login/", guarded(h.handleLogin))
	mux.HandleFunc("POST /account/logout/", h.handleLogout)
	mux.Handle("POST /account/password_change/", private(h.handlePasswordChange))
	mux.Handle("POST /account/password_reset/", guarded(h.handlePasswordReset))
	mux.Handle("POST /account/reset/{token}/", guarded(h.handlePasswordResetConfirm))
	mux.Handle("POST /account/registration/", guarded(h.handleRegister))
	mux.Handle("POST /account/registration/confirmation/", guarded(h.handleRegistrationConfirm))
	mux.HandleFunc("GET /account/profile/{id}/", h.handleProfile)
	mux.Handle("POST /account/profile/edit/{id}/", private(h.handleProfileEdit))
	mux.Handle("GET /account/email-edit/{$}", private(h.handleEmailEditStart))
	mux.Handle("POST /account/email-edit/{$}", h.throttle(private(h.handleEmailEditConfirm)))
	mux.Handle("POST /account/email-edit/new_email/{redirect_token}", private(h.handleNewEmail))
	mux.Handle("POST /account/email-edit/new-email-confirmation/", h.throttle(private(h.handleNewEmailConfirm)))
	mux.Handle("POST /account/secret-get/password-confirmation/", h.throttle(private(h.handleTokenCreate)))
	mux.Handle("GET /account/token-get/info/", private(h.handleTokenInfo))
	mux.Handle("POST /account/secret-key/login", guarded(h.handleTokenLogin))
}

type detailResponse struct {
	Detail string `json:"detail"`
	User   *User  `json:"user,omitempty"`
}

type codeRequest struct {
	Code string `json:"confirmation_code"`
}

// writeError maps service errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var ve *api.ValidationError
	switch {
	case errors.As(err, &ve):
		api.WriteValidation(w, "Form is not valid", ve.Fields)
	case errors.Is(err, ErrInvalidCode):
		msg := i18n.T(ctx, i18n.MsgCodeInvalid)
		api.WriteValidation(w, msg, map[string]string{"confirmation_code": msg})
	case errors.Is(err, ErrPasswordIncorrect):
		msg := i18n.T(ctx, i18n.MsgPasswordIncorrect)
		api.WriteValidation(w, msg, map[string]string{"password": msg})
	case errors.Is(err, ErrInvalidCredentials):
		api.WriteBadRequest(w, "Please enter a correct username and password. Note that both fields may be case-sensitive.")
	case errors.Is(err, ErrInvalidToken):
		api.WriteBadRequest(w, "The password reset link was invalid, possibly because it has already been used.")
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoPendingRegistration), errors.Is(err, ErrNoPendingEmail):
		api.WriteErrorR(w, r, http.StatusNotFound, "Not Found", "Not found")
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrEmailTaken):
		api.WriteConflict(w, err.Error())
	case errors.Is(err, ErrNotAuthenticated):
		api.WriteUnauthorized(w, "")
	default:
		api.WriteInternal(w, err)
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	u, err := h.svc.Login(r.Context(), session.From(r.Context()), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: "Logged in", User: u})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), session.From(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgLoggedOut)})
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var form PasswordChangeForm
	if err := api.DecodeJSON(r, &form); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), auth.Viewer(r.Context()), form); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgPasswordChanged)})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgPasswordResetSent)})
}

func (h *Handler) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewPassword1 string `json:"new_password1"`
		NewPassword2 string `json:"new_password2"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if err := h.svc.ConfirmPasswordReset(r.Context(), r.PathValue("token"), req.NewPassword1, req.NewPassword2); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgPasswordChanged)})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var form RegistrationForm
	if err := api.DecodeJSON(r, &form); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if err := h.svc.Register(r.Context(), session.From(r.Context()), form); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgCodeSent, form.Email)})
}

func (h *Handler) handleRegistrationConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	u, err := h.svc.ConfirmRegistration(r.Context(), session.From(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgRegistrationDone, u.Username), User: u})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	p, err := h.svc.Profile(r.Context(), auth.Viewer(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

// readProfileForm accepts JSON or a multipart form with an optional
// "avatar" file.
func readProfileForm(r *http.Request) (ProfileForm, io.ReadCloser, error) {
	var form ProfileForm
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		return form, nil, api.DecodeJSON(r, &form)
	}
	if err := r.ParseMultipartForm(media.MaxUploadSize); err != nil {
		return form, nil, err
	}
	form.Username = r.FormValue("username")
	form.FirstName = r.FormValue("first_name")
	form.LastName = r.FormValue("last_name")
	form.AboutSelf = r.FormValue("about_self")
	file, _, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil, nil
	}
	if err != nil {
		return form, nil, err
	}
	return form, file, nil
}

func (h *Handler) handleProfileEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		api.WriteNotFound(w, "")
		return
	}
	form, avatar, err := readProfileForm(r)
	if err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	var upload io.Reader
	if avatar != nil {
		defer avatar.Close()
		upload = avatar
	}
	u, err := h.svc.EditProfile(r.Context(), auth.Viewer(r.Context()), id, form, upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgProfileUpdated), User: u})
}

func (h *Handler) handleEmailEditStart(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartEmailChange(r.Context(), auth.Viewer(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgCodeSent, "your current email")})
}

func (h *Handler) handleEmailEditConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	token, err := h.svc.ConfirmOldEmail(r.Context(), auth.Viewer(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"redirect_token": token,
		"next":           "/account/email-edit/new_email/" + token,
	})
}

func (h *Handler) handleNewEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	err := h.svc.SubmitNewEmail(r.Context(), session.From(r.Context()), auth.Viewer(r.Context()), r.PathValue("redirect_token"), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgCodeSent, req.Email)})
}

func (h *Handler) handleNewEmailConfirm(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	u, err := h.svc.ConfirmNewEmail(r.Context(), session.From(r.Context()), auth.Viewer(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: i18n.T(r.Context(), i18n.MsgEmailChanged), User: u})
}

func (h *Handler) handleTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	token, err := h.svc.CreateAPIToken(r.Context(), auth.Viewer(r.Context()), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, map[string]string{
		"detail":               i18n.T(r.Context(), i18n.MsgTokenCreated),
		"authentication_token": token,
	})
}

func (h *Handler) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	token, err := h.svc.APITokenInfo(r.Context(), auth.Viewer(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"authentication_token": token})
}

func (h *Handler) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	u, err := h.svc.TokenLogin(r.Context(), session.From(r.Context()), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, detailResponse{Detail: "Logged in", User: u})
}
