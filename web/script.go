package web

// script drives the challenge page. It knows the answer formats of the
// built-in challenge types: the captcha text as typed, "nonce:hash" for the
// puzzle and the SHA-256 of randomData for the invisible check.
const script = `(function () {
  "use strict";
  const data = JSON.parse(document.getElementById("miaoeyes_challenge").textContent);
  const pub = data.challenge;
  const status = document.getElementById("status");

  const hex = (buf) => Array.from(new Uint8Array(buf)).map((b) => b.toString(16).padStart(2, "0")).join("");
  const sha256 = async (s) => hex(await crypto.subtle.digest("SHA-256", new TextEncoder().encode(s)));
  const post = async (path, body) => {
    const resp = await fetch(data.prefix + path, {
      method: "POST",
      credentials: "same-origin",
      headers: { "Content-Type": "application/json" },
      body: JSON.stringify(body),
    });
    return resp.json();
  };

  // originalUrl is set by the validator snippet embedded in protected pages.
  const finish = () => {
    const target = new URLSearchParams(window.location.search).get("originalUrl");
    if (target) {
      try {
        const url = new URL(target, window.location.href);
        if (url.protocol === "https:" || url.protocol === "http:") {
          window.location.href = url.href;
          return;
        }
      } catch (e) {}
    }
    window.location.reload();
  };

  const restart = (msg) => {
    status.textContent = msg || data.messages.restart;
    setTimeout(() => window.location.reload(), 2000);
  };

  const submit = async (response) => {
    const res = await post("verify", { challengeId: pub.challengeId, response: response });
    if (res.verified && res.token) {
      const done = await post("verify-redirect", { token: res.token });
      if (done.success) {
        finish();
        return;
      }
      restart(data.messages.failed);
      return;
    }
    if (res.attemptsLeft > 0) {
      status.textContent = data.messages.wrongAnswer;
      return;
    }
    restart(res.error);
  };

  const solve = async (randomData, difficulty) => {
    const prefix = "0".repeat(difficulty);
    for (let nonce = 0; ; nonce++) {
      const hash = await sha256(randomData + nonce);
      if (hash.startsWith(prefix)) {
        return nonce + ":" + hash;
      }
    }
  };

  switch (pub.challengeType) {
    case "captcha": {
      const form = document.getElementById("captcha-form");
      const answer = document.getElementById("answer");
      form.addEventListener("submit", (ev) => {
        ev.preventDefault();
        submit(answer.value.trim()).catch(() => restart());
        answer.value = "";
      });
      break;
    }
    case "puzzle":
      solve(pub.params.randomData, pub.params.difficulty).then(submit).catch(() => restart());
      break;
    default:
      sha256(pub.params.randomData).then(submit).catch(() => restart());
  }
})();`
