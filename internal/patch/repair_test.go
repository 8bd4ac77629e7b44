package patch

import (
	"encoding/json"
	"testing"
)

func TestRepairJSON_ClosesTruncation(t *testing.T) {
	in := `{"files":[{"path":"a.py","content":"x = `
	out, desc, ok := RepairJSON(in)
	if !ok {
		t.Fatal("repair refused")
	}
	var v map[string]interface{}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("repaired output invalid (%s): %v\n%s", desc, err, out)
	}
}

func TestRepairJSON_DropsProseAndTrailingJunk(t *testing.T) {
	in := "Sure! Here it is:\n" + `{"a":1}` + "\nanything else"
	out, _, ok := RepairJSON(in)
	if !ok {
		t.Fatal("repair refused")
	}
	if out != `{"a":1}` {
		t.Errorf("repair = %q", out)
	}
}

func TestRepairJSON_NeverInventsContent(t *testing.T) {
	// The repair output must be a subsequence of the input plus closing
	// delimiters only.
	in := `{"k":"v","list":[1,2`
	out, _, ok := RepairJSON(in)
	if !ok {
		t.Fatal("repair refused")
	}
	stripped := out
	for len(stripped) > 0 {
		last := stripped[len(stripped)-1]
		if last == '}' || last == ']' || last == '"' {
			stripped = stripped[:len(stripped)-1]
			continue
		}
		break
	}
	if len(stripped) > len(in) {
		t.Errorf("repair invented content: %q from %q", out, in)
	}
}

func TestRepairJSON_NoObjectAtAll(t *testing.T) {
	if _, _, ok := RepairJSON("no json here"); ok {
		t.Error("repair fabricated an object from prose")
	}
}
