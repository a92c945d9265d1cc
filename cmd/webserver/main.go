package main

import (
	"context"
	"encoding/json"
	"html/template"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"tosassembler"

	"github.com/gorilla/sessions"
)

// Server is the teacher-facing front-end: submit a TOS, download the
// assembled versions and answer keys.
type Server struct {
	db        *tosassembler.BankDB
	assembler *tosassembler.TestAssembler
	store     *sessions.CookieStore
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>Test Assembler</title></head>
<body>
<h1>Assemble a Test</h1>
{{if .Error}}<p style="color:red">{{.Error}}</p>{{end}}
{{if .TestID}}
<p>Assembled test <code>{{.TestID}}</code> with {{.NumVersions}} versions.</p>
<p><a href="/download?id={{.TestID}}">Download JSON</a></p>
{{end}}
<form method="POST" action="/assemble">
<p>Table of Specification (JSON):</p>
<textarea name="tos" rows="15" cols="80">{{.TOS}}</textarea>
<p>Versions: <input name="versions" value="2" size="3">
Points per question: <input name="points" value="1" size="3">
Seed: <input name="seed" value="0" size="10"></p>
<p><label><input type="checkbox" name="shuffle_questions" checked> Shuffle questions</label>
<label><input type="checkbox" name="shuffle_choices" checked> Shuffle choices</label></p>
<p><input type="submit" value="Assemble"></p>
</form>
</body>
</html>`))

type pageData struct {
	Error       string
	TestID      string
	NumVersions int
	TOS         string
}

func main() {
	tosassembler.SetVerbose(true)

	apiKey := os.Getenv("OPENAI_API_KEY")

	db, err := tosassembler.OpenBankDB("./bank.db")
	if err != nil {
		log.Fatalf("Failed to open question bank: %v", err)
	}
	defer db.Close()

	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	var generator tosassembler.TextGenerator
	if apiKey != "" {
		generator = tosassembler.NewQuestionMaker(apiKey)
	}

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		sessionSecret = "dev-only-secret"
	}

	server := &Server{
		db:        db,
		assembler: tosassembler.NewTestAssembler(db, generator),
		store:     sessions.NewCookieStore([]byte(sessionSecret)),
	}

	http.HandleFunc("/", server.handleHome)
	http.HandleFunc("/assemble", server.handleAssemble)
	http.HandleFunc("/download", server.handleDownload)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("Listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	session, _ := s.store.Get(r, "tosassembler")

	data := pageData{}
	if id, ok := session.Values["last_test_id"].(string); ok {
		data.TestID = id
	}
	if n, ok := session.Values["last_num_versions"].(int); ok {
		data.NumVersions = n
	}
	if msg, ok := session.Values["error"].(string); ok && msg != "" {
		data.Error = msg
		delete(session.Values, "error")
		session.Save(r, w)
	}

	if err := pageTemplate.Execute(w, data); err != nil {
		log.Printf("Template error: %v", err)
	}
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	session, _ := s.store.Get(r, "tosassembler")
	fail := func(msg string) {
		session.Values["error"] = msg
		session.Save(r, w)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}

	var tos tosassembler.TOSSpec
	if err := json.Unmarshal([]byte(r.FormValue("tos")), &tos); err != nil {
		fail("Invalid TOS JSON: " + err.Error())
		return
	}

	versions, _ := strconv.Atoi(r.FormValue("versions"))
	if versions < 1 {
		versions = 1
	}
	points, _ := strconv.Atoi(r.FormValue("points"))
	if points < 1 {
		points = 1
	}
	seed, _ := strconv.ParseInt(r.FormValue("seed"), 10, 64)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	config := tosassembler.AssemblyConfig{
		NumVersions:       versions,
		ShuffleQuestions:  r.FormValue("shuffle_questions") != "",
		ShuffleChoices:    r.FormValue("shuffle_choices") != "",
		PointsPerQuestion: points,
		Seed:              seed,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	test, err := s.assembler.AssembleTest(ctx, tos, config)
	if err != nil {
		fail("Assembly failed: " + err.Error())
		return
	}

	if err := s.db.SaveGeneratedTest(ctx, test); err != nil {
		fail("Failed to save test: " + err.Error())
		return
	}

	session.Values["last_test_id"] = test.ID
	session.Values["last_num_versions"] = len(test.Versions)
	session.Save(r, w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	test, err := s.db.LoadGeneratedTest(r.Context(), id)
	if err != nil {
		http.Error(w, "test not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename="+id+".json")
	if err := json.NewEncoder(w).Encode(test); err != nil {
		log.Printf("Failed to encode test %s: %v", id, err)
	}
}
