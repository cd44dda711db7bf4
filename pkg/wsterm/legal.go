package wsterm

// LegalNotice is printed by `wsterm legal`. It lists the third-party
// components this binary links against; a real build would generate this
// from the module's dependency licenses the way mutagen's own build does.
const LegalNotice = `wsterm

This software links against open-source software components, including
(but not limited to) gorilla/websocket, vmihailenco/msgpack, creack/pty,
google/uuid, Microsoft/go-winio, golang.org/x/sys, golang.org/x/term,
spf13/cobra, spf13/pflag, pkg/errors, fatih/color, and dustin/go-humanize.
Each component is distributed under its own license; consult the
corresponding go.sum entries for exact versions in this build.
`
