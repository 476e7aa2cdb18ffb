// Package secure keeps credentials encrypted in memory.
//
// Vault tokens, key store passwords, AppRole secret ids and resolved
// property values are wrapped in a SecureBuffer backed by memguard. The
// plaintext is only materialised for the duration of a request or when a
// child process environment is built.
//
//	buf, _ := secure.NewSecureBufferFromString(token)
//	defer buf.Destroy()
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	client.SetToken(string(locked.Bytes()))
//
// Memory locking depends on RLIMIT_MEMLOCK on Linux. When it is not
// available memguard still encrypts the data but cannot keep it out of swap.
package secure
