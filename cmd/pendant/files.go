package main

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mastercactapus/pendant/job"
)

const maxUploadMemory = 32 << 20

type fileInfo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Origin string `json:"origin"`
	Size   int64  `json:"size"`
	Date   int64  `json:"date"`
}

// saveFile writes r to name inside the data directory.
func (a *api) saveFile(name string, r io.Reader) error {
	full := job.Resolve(a.dataDir, name)
	os.MkdirAll(filepath.Dir(full), 0755)
	f, err := os.Create(full)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *api) selectFile(name string) {
	a.mx.Lock()
	a.selected = strings.TrimPrefix(path.Clean("/"+name), "/")
	a.mx.Unlock()
}

// startSelected starts the selected file. It writes an error response and
// returns false if the job could not be started.
func (a *api) startSelected(w http.ResponseWriter) bool {
	dev, _, runner := a.current()
	if dev == nil || dev.IsInPanic() {
		notOperational(w)
		return false
	}
	a.mx.RLock()
	name := a.selected
	a.mx.RUnlock()

	err := runner.Start(name)
	if err != nil {
		a.jobError(w, err)
		return false
	}
	return true
}

func (a *api) listFiles(w http.ResponseWriter, req *http.Request) {
	files := []fileInfo{}
	dir := a.dataDir
	if dir == "" {
		dir = "."
	}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files = append(files, fileInfo{
			Name:   path.Base(rel),
			Path:   rel,
			Origin: "local",
			Size:   info.Size(),
			Date:   info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		a.log.Error().Err(err).Str("dir", dir).Msg("list files")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, map[string]interface{}{"files": files})
}

// uploadFile takes a multipart upload in the "file" field, as slicers send
// it, optionally selecting and printing it.
func (a *api) uploadFile(w http.ResponseWriter, req *http.Request) {
	err := req.ParseMultipartForm(maxUploadMemory)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, hdr, err := req.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer f.Close()

	name := path.Base(path.Clean("/" + filepath.ToSlash(hdr.Filename)))
	if name == "/" || name == "." {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	err = a.saveFile(name, f)
	if err != nil {
		a.log.Error().Err(err).Str("file", name).Msg("save upload")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.log.Info().Str("file", name).Int64("size", hdr.Size).Msg("file uploaded")

	if req.FormValue("select") == "true" || req.FormValue("print") == "true" {
		a.selectFile(name)
	}
	if req.FormValue("print") == "true" && !a.startSelected(w) {
		return
	}

	location := "http://" + req.Host + "/api/files/local/" + name
	w.Header().Set("Location", location)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"files": map[string]interface{}{
			"local": map[string]interface{}{
				"name":   name,
				"origin": "local",
				"refs":   map[string]string{"resource": location},
			},
		},
		"done": true,
	})
}

// fileCommand handles {"command":"select","print":bool} for a stored file.
func (a *api) fileCommand(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	var body struct {
		Command string `json:"command"`
		Print   bool   `json:"print"`
	}
	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Command != "select" {
		http.Error(w, "unsupported command "+body.Command, http.StatusBadRequest)
		return
	}

	fi, err := os.Stat(job.Resolve(a.dataDir, name))
	if err != nil || fi.IsDir() {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}
	a.selectFile(name)
	if body.Print && !a.startSelected(w) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	err := a.saveFile(req.URL.Path, req.Body)
	if err != nil {
		a.log.Error().Err(err).Str("file", req.URL.Path).Msg("save")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.selectFile(req.URL.Path)
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	name := job.Resolve(a.dataDir, req.URL.Path)
	err := os.Remove(name)
	if err != nil {
		a.log.Error().Err(err).Str("file", name).Msg("delete")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
