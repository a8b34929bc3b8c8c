// Package rbac resolve permissões por papel (admin, hod, faculty, student) e
// identifica o usuário a partir de um bearer token JWT.
//
// Permissões têm o formato "recurso:ação" (ex: "notices:write"). "*" concede tudo e
// "recurso:*" concede todas as ações do recurso. Papéis herdam de outros papéis.
package rbac
