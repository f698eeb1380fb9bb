package identity

import "strings"

func absentSnapshot() Snapshot {
	return Snapshot{Roles: []string{}, Permissions: []string{}, TokenVersion: 0}
}

func checkCreateUser(op string, in CreateUserInput) (email, norm string, err error) {
	email = strings.TrimSpace(in.Email)
	norm = NormalizeEmail(email)
	if norm == "" {
		return "", "", invalid(op, "email is required")
	}
	if len(norm) > 320 {
		return "", "", invalid(op, "email too long")
	}
	at := strings.IndexByte(norm, '@')
	if at <= 0 || at == len(norm)-1 || strings.ContainsAny(norm, " \t\r\n") {
		return "", "", invalid(op, "email is malformed")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return "", "", invalid(op, "password hash is required")
	}
	return email, norm, nil
}

func checkRole(op, name string, permissions []string) (string, []string, error) {
	role := NormalizeCode(name)
	if role == "" {
		return "", nil, invalid(op, "role name is required")
	}
	perms := make([]string, 0, len(permissions))
	for _, p := range permissions {
		perms = append(perms, NormalizeCode(p))
	}
	return role, sortedUnique(perms), nil
}
