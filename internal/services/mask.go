package services

import "strings"

// MaskEmail keeps the first three characters of the local part: "ash****@example.com".
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "****"
	}
	if r := []rune(local); len(r) > 3 {
		local = string(r[:3])
	}
	return local + "****@" + domain
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
