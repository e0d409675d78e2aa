package protocol

import "testing"

func TestOkDefaultsEmptyData(t *testing.T) {
	env := Ok(1, 2, 3, nil)
	if env.Status.Code != 0 {
		t.Errorf("Status.Code = %d, want 0", env.Status.Code)
	}
	if _, ok := env.Data.(map[string]any); !ok {
		t.Errorf("nil data should render as an empty object, got %T", env.Data)
	}
}

func TestOkCarriesData(t *testing.T) {
	env := Ok(1, 2, 3, map[string]any{"echo": "hi"})
	m, ok := env.Data.(map[string]any)
	if !ok || m["echo"] != "hi" {
		t.Errorf("Data = %v", env.Data)
	}
}

func TestErrorCarriesCodeAndMessage(t *testing.T) {
	env := Error(5, 1, 9, 20001, "client name already exists")
	if env.Status.Code != 20001 || env.Status.Message != "client name already exists" {
		t.Errorf("Status = %+v", env.Status)
	}
	if env.Header.ServiceID != 5 || env.Header.CmdID != 1 || env.Header.Seq != 9 {
		t.Errorf("Header = %+v", env.Header)
	}
}
