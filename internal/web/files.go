package web

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/render"

	"github.com/qiboteam/qdashboard/internal/apiresponse"
	"github.com/qiboteam/qdashboard/internal/browse"
	"github.com/qiboteam/qdashboard/internal/errresponse"
)

// uploadMemoryLimit is how much of a multipart upload is buffered in
// memory before spilling to temp files.
const uploadMemoryLimit = 32 << 20

func (a *App) browseGet(w http.ResponseWriter, r *http.Request) {
	rel := wildcard(r)

	_, fi, err := a.browser.Stat(rel)
	if err != nil {
		a.browseErr(w, r, err)

		return
	}

	if fi.IsDir() {
		a.browseDir(w, r, rel)

		return
	}

	a.browseFile(w, r, rel)
}

func (a *App) browseDir(w http.ResponseWriter, r *http.Request, rel string) {
	show := showHidden(w, r)

	listing, err := a.browser.List(rel, show)
	if err != nil {
		a.browseErr(w, r, err)

		return
	}

	if wantsJSON(r) {
		render.Respond(w, r, listing)

		return
	}

	var parent string
	if listing.Path != "" {
		if parent = path.Dir(listing.Path); parent == "." {
			parent = ""
		}
	}

	a.renderPage(w, r, "file_browser.html", struct {
		Title      string
		Versions   map[string]string
		Listing    *browse.Listing
		Parent     string
		ShowHidden bool
		Authorized bool
	}{
		Title:      "Files",
		Versions:   a.monitor.Versions(r.Context()),
		Listing:    listing,
		Parent:     parent,
		ShowHidden: show,
		Authorized: a.authorized(r),
	})
}

// browseFile streams one file. Types the browser can display stay
// inline, everything else downloads as an attachment. ServeContent
// picks up Range and conditional headers.
func (a *App) browseFile(w http.ResponseWriter, r *http.Request, rel string) {
	f, fi, err := a.browser.Open(rel)
	if err != nil {
		a.browseErr(w, r, err)

		return
	}
	defer f.Close()

	if !browse.Inline(fi.Name()) {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fi.Name()))
	}

	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func (a *App) browsePut(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		a.respond(w, r, errresponse.ErrUnauthorized)

		return
	}

	if err := a.browser.Save(wildcard(r), r.Body); err != nil {
		a.browseErr(w, r, err)

		return
	}

	render.Status(r, http.StatusCreated)
	a.respond(w, r, apiresponse.NewStatusResponse("File Saved"))
}

func (a *App) browsePost(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		a.respond(w, r, errresponse.ErrUnauthorized)

		return
	}

	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		a.respond(w, r, errresponse.ErrInvalidRequest(err))

		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		a.respond(w, r, errresponse.ErrInvalidRequest(errors.New("no file field in form")))

		return
	}

	rel := wildcard(r)
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			a.respond(w, r, errresponse.ErrInternal(err))

			return
		}

		name, err := a.browser.SaveUpload(rel, fh.Filename, f)
		f.Close()
		if err != nil {
			a.browseErr(w, r, err)

			return
		}
		a.logFor(r).Infow("file uploaded", "dir", rel, "file", name)
	}

	a.respond(w, r, apiresponse.NewStatusResponse("Files Saved"))
}

func (a *App) browseDelete(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		a.respond(w, r, errresponse.ErrUnauthorized)

		return
	}

	if err := a.browser.Delete(wildcard(r)); err != nil {
		a.browseErr(w, r, err)

		return
	}

	a.respond(w, r, apiresponse.NewStatusResponse("File Deleted"))
}

// browseErr maps the browser's sentinels onto the API error shapes.
func (a *App) browseErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, browse.ErrNotFound):
		a.respond(w, r, errresponse.ErrNotFound)
	case errors.Is(err, browse.ErrExists):
		a.respond(w, r, errresponse.ErrConflict(err))
	default:
		a.respond(w, r, errresponse.ErrInvalidRequest(err))
	}
}

// authorized checks the write-protection cookie. A missing cookie never
// authorizes, even when the configured key is empty.
func (a *App) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("auth_cookie")

	return err == nil && cookie.Value == a.cfg.AuthKey
}

// showHidden resolves the dotfile toggle. An explicit query parameter
// wins over the cookie, and the outcome is persisted for half a year.
func showHidden(w http.ResponseWriter, r *http.Request) bool {
	show := false
	if cookie, err := r.Cookie("show_hidden"); err == nil {
		show = cookie.Value == "true"
	}
	if v := r.URL.Query().Get("show_hidden"); v != "" {
		show = v == "true" || v == "1"
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "show_hidden",
		Value:    strconv.FormatBool(show),
		MaxAge:   16070400,
		HttpOnly: true,
	})

	return show
}

// wantsJSON reports whether the client asked for the listing as data
// rather than as the browser page.
func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}

	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
