package auth

import "testing"

func TestDeviceTokenRoundTrip(t *testing.T) {
	a := New("test-secret")

	token, err := a.GenerateDeviceToken("esp32_A")
	if err != nil {
		t.Fatalf("GenerateDeviceToken: %v", err)
	}

	claims, err := a.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.DeviceID != "esp32_A" {
		t.Errorf("device ID = %s", claims.DeviceID)
	}
	if claims.Role != "device" {
		t.Errorf("role = %s", claims.Role)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := New("secret-one").GenerateDeviceToken("esp32_A")
	if err != nil {
		t.Fatalf("GenerateDeviceToken: %v", err)
	}

	if _, err := New("secret-two").ValidateToken(token); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := New("secret").ValidateToken("not-a-token"); err == nil {
		t.Fatal("malformed token accepted")
	}
}
