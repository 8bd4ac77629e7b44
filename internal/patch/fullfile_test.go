package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFullFile_CreateVsModify(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "a.py"), []byte("old\n"), 0644); err != nil {
		t.Fatal(err)
	}

	payload := `{"files":[{"path":"src/a.py","content":"new\n"},{"path":"src/b.py","content":"fresh\n"}]}`
	plan, err := ParseFullFile(payload, root)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Ops[0].Kind != OpModifyByReplaceAll {
		t.Errorf("existing file should be MODIFY_BY_REPLACE_ALL, got %s", plan.Ops[0].Kind)
	}
	if plan.Ops[1].Kind != OpCreate {
		t.Errorf("new file should be CREATE, got %s", plan.Ops[1].Kind)
	}
}

func TestParseFullFile_JSONRepair(t *testing.T) {
	// Truncated mid-string: the repair pass closes it.
	payload := `{"files":[{"path":"src/a.py","content":"x = 1`
	plan, err := ParseFullFile(payload, "")
	if err != nil {
		t.Fatalf("repair pass did not recover: %v", err)
	}
	if len(plan.Repairs) == 0 {
		t.Error("repair not recorded for audit")
	}
	if len(plan.Ops) != 1 || plan.Ops[0].Path != "src/a.py" {
		t.Errorf("repaired plan wrong: %+v", plan.Ops)
	}
}

func TestParseFullFile_LeadingProse(t *testing.T) {
	payload := "Here is the patch you asked for:\n" +
		`{"files":[{"path":"src/a.py","content":"x = 1\n"}]}` + "\nHope that helps!"
	plan, err := ParseFullFile(payload, "")
	if err != nil {
		t.Fatalf("prose-wrapped JSON not recovered: %v", err)
	}
	if len(plan.Ops) != 1 {
		t.Errorf("expected 1 op, got %d", len(plan.Ops))
	}
}

func TestParse_BucketCAutoConvertsToNDJSON(t *testing.T) {
	big := strings.Repeat("line\n", 1100)
	payload := `{"files":[{"path":"src/big.py","content":` + jsonString(big) + `}]}`

	plan, err := Parse(payload, ParseOptions{FullFileLineCap: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Format != FormatNDJSON {
		t.Errorf("Bucket-C payload not auto-converted: format=%s", plan.Format)
	}
}

func TestFullFileRoundTrip(t *testing.T) {
	payload := `{"files":[{"path":"src/a.py","content":"x = 1\n"},{"path":"src/b.py","content":"y\n"}]}`
	plan, err := ParseFullFile(payload, "")
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := ParseFullFile(SerializeFullFile(plan), "")
	if err != nil {
		t.Fatalf("serialized full-file does not reparse: %v", err)
	}
	if plan.Hash() != reparsed.Hash() {
		t.Error("full-file round trip changed the plan hash")
	}
}

func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
