package redisstore

import (
	"fmt"

	"github.com/MrCodeEU/facelogin/pkg/storage"
)

const keyPrefix = "facelogin"

// userKey returns the key holding a JSON encoded record.
func userKey(id storage.Identity) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, id)
}

// userKeyPattern matches every record key.
func userKeyPattern() string {
	return fmt.Sprintf("%s:user:*", keyPrefix)
}

// usernameIndexKey returns the key of the username -> identity index.
func usernameIndexKey(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", keyPrefix, username)
}
