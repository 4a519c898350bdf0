package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const assetsYAML = `
assets:
  - id: 1
    name: player
    visible_range: 40
    elements:
      - {name: health, kind: int32}
      - {name: nick, kind: string, channel: 1}
    functions:
      - {name: jump, params: [float32]}
  - id: 2
    name: beacon
    always_visible: true
`

func TestParseAssets(t *testing.T) {
	tbl, err := parseAssets([]byte(assetsYAML), "test")
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Count() != 2 {
		t.Fatalf("count = %d", tbl.Count())
	}
	p := tbl.ByName("player")
	if p == nil || p.ID != 1 || p.MemberCount() != 3 || p.Elements[1].Channel != 1 {
		t.Fatalf("player = %+v", p)
	}
	if b := tbl.Get(2); b == nil || !b.AlwaysVisible {
		t.Fatalf("beacon = %+v", b)
	}
	all := tbl.All()
	if all[0].ID != 1 || all[1].ID != 2 {
		t.Fatal("All not ordered by id")
	}
}

func TestParseAssetsRejectsDuplicates(t *testing.T) {
	_, err := parseAssets([]byte("assets:\n  - {id: 3}\n  - {id: 3}\n"), "dup")
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadSceneTable(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("lobby.yaml", `
entities:
  - {id: 3, asset: 2, position: [1, 0, 1]}
  - {id: 9, asset: 1, hidden: true}
`)
	write("arena.yaml", "name: arena\nentities:\n  - {id: 1, asset: 7}\n")
	write("notes.txt", "ignored")

	tbl, err := LoadSceneTable(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := tbl.Names(); len(got) != 2 || got[0] != "arena" || got[1] != "lobby" {
		t.Fatalf("names = %v", got)
	}
	lobby := tbl.Get("lobby")
	if lobby.HighestID() != 9 || lobby.Entities[0].Position != [3]float32{1, 0, 1} || !lobby.Entities[1].Hidden {
		t.Fatalf("lobby = %+v", lobby)
	}

	assets, err := parseAssets([]byte(assetsYAML), "test")
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Validate(assets); err == nil || !strings.Contains(err.Error(), "unknown asset 7") {
		t.Fatalf("validate err = %v", err)
	}
}

func TestLoadSceneRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("entities:\n  - {id: 1, asset: 1}\n  - {id: 1, asset: 1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScene(path); err == nil {
		t.Fatal("expected duplicate id error")
	}
}
